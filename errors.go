package kephascord

import (
	"errors"
	"fmt"
)

// ErrorClass classifies errors by how the library and its callers should react to them.
type ErrorClass int

const (
	// ClassTransient covers network faults, timeouts and rate limiting. The scheduler
	// retries some of them internally up to a bound.
	ClassTransient ErrorClass = iota
	// ClassTerminalRequest covers 4xx responses other than 429 and malformed requests.
	// They are surfaced to the caller and never retried.
	ClassTerminalRequest
	// ClassSessionFatal covers gateway failures that must not be retried, such as an
	// authentication rejection on identify.
	ClassSessionFatal
	// ClassRecoverableSession covers dropped connections, resumable invalid sessions
	// and missed heartbeats. The session recovers from them on its own.
	ClassRecoverableSession
	// ClassDecode covers malformed payload bodies. The payload is dropped.
	ClassDecode
	// ClassHandler covers failures raised by application callbacks.
	ClassHandler
)

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminalRequest:
		return "terminal_request"
	case ClassSessionFatal:
		return "session_fatal"
	case ClassRecoverableSession:
		return "recoverable_session"
	case ClassDecode:
		return "decode"
	case ClassHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Sentinel errors shared by the scheduler, the gateway session and the dispatcher.
var (
	ErrRateLimited          = errors.New("rate limited")
	ErrAttemptTimeout       = errors.New("request attempt timed out")
	ErrSchedulerClosed      = errors.New("scheduler closed")
	ErrHelloTimeout         = errors.New("timed out waiting for hello")
	ErrHeartbeatTimeout     = errors.New("heartbeat not acknowledged")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrSessionInvalidated   = errors.New("session invalidated")
	ErrReconnectRequested   = errors.New("server requested reconnect")
	ErrAlreadyRunning       = errors.New("already running")
	ErrUnhandledCommand     = errors.New("unhandled command")
	ErrDuplicateCommand     = errors.New("command already registered")
)

// Error wraps an error with its class and the operation that produced it.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(class ErrorClass, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf reports the class of the outermost classified error in err's chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassTransient
}

// IsSessionFatal reports whether err is classified as session fatal.
func IsSessionFatal(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassSessionFatal
}

// HTTPError is returned for REST responses the scheduler does not retry.
type HTTPError struct {
	StatusCode int
	// Code and Message come from the JSON error body when the server sends one.
	Code    int
	Message string
	Body    []byte
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}
