package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephascord"
)

// TestBucketWait tests admission of a bucket at various points of its window
func TestBucketWait(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name   string
		bucket Bucket
		want   time.Duration
	}{
		{"fresh bucket admits", Bucket{}, 0},
		{"remaining admits", Bucket{Remaining: 2, ResetAt: now.Add(time.Second)}, 0},
		{"exhausted waits for reset", Bucket{Remaining: 0, ResetAt: now.Add(time.Second)}, time.Second},
		{"reset passed admits", Bucket{Remaining: 0, ResetAt: now.Add(-time.Millisecond)}, 0},
		{"reset exactly now admits", Bucket{Remaining: 0, ResetAt: now}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.bucket.Wait(now))
		})
	}
}

// TestBucketTableUpdate tests that response headers set the bucket state
func TestBucketTableUpdate(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	route := kephascord.NewRoute("/channels/{channel.id}/messages", "1")
	now := time.Now()

	table.Update(route, RateLimitInfo{Limit: 5, Remaining: 4, HasRemaining: true, ResetAfter: time.Second}, now)

	b, ok := table.Peek(route)
	require.True(t, ok)
	assert.Equal(t, 5, b.Limit)
	assert.Equal(t, 4, b.Remaining)
	assert.Equal(t, now.Add(time.Second), b.ResetAt)
}

// TestBucketTableKeepsLowerLocalCount tests that a stale server count does not refill a bucket mid-window
func TestBucketTableKeepsLowerLocalCount(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	route := kephascord.NewRoute("/r", "")
	now := time.Now()

	table.Update(route, RateLimitInfo{Limit: 5, Remaining: 4, HasRemaining: true, ResetAfter: time.Second}, now)
	b := table.Get(route)
	b.take()
	b.take()

	table.Update(route, RateLimitInfo{Limit: 5, Remaining: 3, HasRemaining: true, ResetAfter: 900 * time.Millisecond}, now.Add(100*time.Millisecond))

	got, _ := table.Peek(route)
	assert.Equal(t, 2, got.Remaining)
}

// TestBucketTableNewWindow tests that a response from a later window replaces the local state
func TestBucketTableNewWindow(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	route := kephascord.NewRoute("/r", "")
	now := time.Now()

	table.Update(route, RateLimitInfo{Limit: 2, Remaining: 0, HasRemaining: true, ResetAfter: time.Second}, now)

	later := now.Add(2 * time.Second)
	table.Update(route, RateLimitInfo{Limit: 2, Remaining: 1, HasRemaining: true, ResetAfter: time.Second}, later)

	got, _ := table.Peek(route)
	assert.Equal(t, 1, got.Remaining)
	assert.Equal(t, later.Add(time.Second), got.ResetAt)
}

// TestBucketTableRemap tests that routes reporting the same hash share one bucket per major parameter
func TestBucketTableRemap(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	now := time.Now()

	send := kephascord.NewRoute("/channels/{channel.id}/messages", "1")
	edit := kephascord.NewRoute("/channels/{channel.id}/messages/{message.id}", "1")
	other := kephascord.NewRoute("/channels/{channel.id}/messages", "2")

	info := RateLimitInfo{Bucket: "abc", Limit: 5, Remaining: 3, HasRemaining: true, ResetAfter: time.Second}
	table.Update(send, info, now)
	table.Update(edit, info, now)
	table.Update(other, info, now)

	assert.Same(t, table.Get(send), table.Get(edit))
	assert.NotSame(t, table.Get(send), table.Get(other))
	assert.Equal(t, 2, table.Len())

	b, ok := table.Peek(send)
	require.True(t, ok)
	assert.Equal(t, "abc", b.Hash)
}

// TestBucketTableRemapCarriesState tests that remapping keeps an exhausted private bucket exhausted
func TestBucketTableRemapCarriesState(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	route := kephascord.NewRoute("/r", "")
	now := time.Now()

	table.Exhaust(route, now.Add(time.Second))
	table.Update(route, RateLimitInfo{Bucket: "h"}, now)

	b, ok := table.Peek(route)
	require.True(t, ok)
	assert.Equal(t, 0, b.Remaining)
	assert.Equal(t, now.Add(time.Second), b.ResetAt)
	assert.Equal(t, 1, table.Len())
}

// TestBucketTableExhaust tests that Exhaust never shortens an existing reset
func TestBucketTableExhaust(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	route := kephascord.NewRoute("/r", "")
	now := time.Now()

	table.Exhaust(route, now.Add(2*time.Second))
	table.Exhaust(route, now.Add(time.Second))

	b, _ := table.Peek(route)
	assert.Equal(t, now.Add(2*time.Second), b.ResetAt)
	assert.Equal(t, 2*time.Second, b.Wait(now))
}

// TestBucketTablePeekUnknown tests that Peek does not create buckets
func TestBucketTablePeekUnknown(t *testing.T) {
	t.Parallel()

	table := NewBucketTable()
	_, ok := table.Peek(kephascord.NewRoute("/nope", ""))
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}
