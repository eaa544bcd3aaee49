package kephascord_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luciancaetano/kephascord"
)

// TestWrap tests classification, unwrapping and the nil case
func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, kephascord.Wrap(kephascord.ClassDecode, "op", nil))

	base := errors.New("boom")
	err := kephascord.Wrap(kephascord.ClassTransient, "GET /gateway", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "GET /gateway: boom", err.Error())
	assert.True(t, kephascord.IsTransient(err))
	assert.False(t, kephascord.IsSessionFatal(err))

	noOp := kephascord.Wrap(kephascord.ClassHandler, "", base)
	assert.Equal(t, "boom", noOp.Error())
}

// TestClassOf tests class lookup through wrapping layers
func TestClassOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantClass kephascord.ErrorClass
		wantOK    bool
	}{
		{"nil", nil, 0, false},
		{"plain", errors.New("x"), 0, false},
		{"direct", kephascord.Wrap(kephascord.ClassSessionFatal, "op", kephascord.ErrAuthenticationFailed), kephascord.ClassSessionFatal, true},
		{"wrapped", fmt.Errorf("outer: %w", kephascord.Wrap(kephascord.ClassDecode, "op", errors.New("x"))), kephascord.ClassDecode, true},
		{
			"outermost wins",
			kephascord.Wrap(kephascord.ClassHandler, "outer", kephascord.Wrap(kephascord.ClassTransient, "inner", errors.New("x"))),
			kephascord.ClassHandler,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			class, ok := kephascord.ClassOf(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantClass, class)
		})
	}
}

// TestErrorClassString tests the class names
func TestErrorClassString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		class kephascord.ErrorClass
		want  string
	}{
		{kephascord.ClassTransient, "transient"},
		{kephascord.ClassTerminalRequest, "terminal_request"},
		{kephascord.ClassSessionFatal, "session_fatal"},
		{kephascord.ClassRecoverableSession, "recoverable_session"},
		{kephascord.ClassDecode, "decode"},
		{kephascord.ClassHandler, "handler"},
		{kephascord.ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

// TestHTTPError tests the error text with and without a JSON body
func TestHTTPError(t *testing.T) {
	t.Parallel()

	withBody := &kephascord.HTTPError{StatusCode: 404, Code: 10003, Message: "Unknown Channel"}
	assert.Equal(t, "http 404: Unknown Channel (code 10003)", withBody.Error())

	bare := &kephascord.HTTPError{StatusCode: 500}
	assert.Equal(t, "http 500", bare.Error())

	var target *kephascord.HTTPError
	err := kephascord.Wrap(kephascord.ClassTerminalRequest, "op", withBody)
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, 10003, target.Code)
}
