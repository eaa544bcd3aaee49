package ratelimit

import (
	"time"

	"github.com/luciancaetano/kephascord"
)

// Bucket is the tracked rate-limit state of one server bucket.
type Bucket struct {
	// Hash is the server's bucket identity, empty until a response reveals it.
	Hash      string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Wait returns how long a request must wait before the bucket admits it.
// A bucket admits requests while Remaining > 0 or once ResetAt has passed.
func (b *Bucket) Wait(now time.Time) time.Duration {
	if b.Remaining > 0 || !now.Before(b.ResetAt) {
		return 0
	}
	return b.ResetAt.Sub(now)
}

// take accounts for a request about to be issued.
func (b *Bucket) take() {
	if b.Remaining > 0 {
		b.Remaining--
	}
}

// BucketTable maps routes to bucket state. It has no locking of its own;
// the scheduler owns it and serializes access.
//
// Routes start on a private bucket keyed by the route itself. Once a response
// carries a bucket hash the route is remapped to the shared bucket for that
// hash and major parameter, so routes the server groups together share state.
type BucketTable struct {
	routes  map[kephascord.Route]string
	buckets map[string]*Bucket
}

// NewBucketTable returns an empty table.
func NewBucketTable() *BucketTable {
	return &BucketTable{
		routes:  make(map[kephascord.Route]string),
		buckets: make(map[string]*Bucket),
	}
}

func routeKey(route kephascord.Route) string {
	return "route:" + route.String()
}

func hashKey(hash string, route kephascord.Route) string {
	return "hash:" + hash + ":" + route.MajorParam
}

// Get returns the bucket currently mapped to route, creating it if needed.
func (t *BucketTable) Get(route kephascord.Route) *Bucket {
	key, ok := t.routes[route]
	if !ok {
		key = routeKey(route)
		t.routes[route] = key
	}

	b, ok := t.buckets[key]
	if !ok {
		b = &Bucket{}
		t.buckets[key] = b
	}
	return b
}

// Peek returns a copy of the bucket mapped to route without creating one.
func (t *BucketTable) Peek(route kephascord.Route) (Bucket, bool) {
	key, ok := t.routes[route]
	if !ok {
		return Bucket{}, false
	}
	b, ok := t.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Update applies the rate-limit headers of a response for route.
func (t *BucketTable) Update(route kephascord.Route, info RateLimitInfo, now time.Time) {
	if info.Bucket != "" {
		t.remap(route, info.Bucket)
	}
	if !info.HasRemaining {
		return
	}

	b := t.Get(route)
	resetAt := info.ResetAt(now)

	// Within the current window the local count may already be lower than the
	// server's because of other requests sharing this bucket.
	if now.Before(b.ResetAt) && !resetAt.After(b.ResetAt.Add(time.Second)) && info.Remaining > b.Remaining {
		b.Limit = info.Limit
		return
	}

	b.Limit = info.Limit
	b.Remaining = max(info.Remaining, 0)
	if !resetAt.IsZero() {
		b.ResetAt = resetAt
	}
}

// Exhaust marks route's bucket empty until the given time.
func (t *BucketTable) Exhaust(route kephascord.Route, until time.Time) {
	b := t.Get(route)
	b.Remaining = 0
	if until.After(b.ResetAt) {
		b.ResetAt = until
	}
}

// remap points route at the shared bucket for hash, carrying the current
// state over when the shared bucket is new.
func (t *BucketTable) remap(route kephascord.Route, hash string) {
	newKey := hashKey(hash, route)
	oldKey, known := t.routes[route]
	if known && oldKey == newKey {
		return
	}

	if _, exists := t.buckets[newKey]; !exists {
		nb := &Bucket{Hash: hash}
		if old, ok := t.buckets[oldKey]; known && ok {
			nb.Limit = old.Limit
			nb.Remaining = old.Remaining
			nb.ResetAt = old.ResetAt
		}
		t.buckets[newKey] = nb
	}
	t.routes[route] = newKey

	if known && oldKey == routeKey(route) {
		delete(t.buckets, oldKey)
	}
}

// Len returns the number of distinct buckets tracked.
func (t *BucketTable) Len() int {
	return len(t.buckets)
}
