package kephascord

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

// Requester defines the interface for submitting REST calls through the rate-limited scheduler.
//
// Example usage:
//
//	route := kephascord.NewRoute("/channels/{channel.id}/messages", channelID)
//	fut := requester.Submit(&kephascord.Request{
//	    Route:  route,
//	    Method: http.MethodPost,
//	    Path:   "/channels/" + channelID + "/messages",
//	    Body:   body,
//	})
//
//	resp, err := fut.Wait(ctx)
type Requester interface {
	// Submit enqueues the request under its route and returns immediately.
	//
	// The returned Future resolves once the call succeeds, exhausts its retries
	// or fails with an error that is not retried (network fault, 4xx other than 429).
	// Requests sharing a route are issued one at a time in submission order.
	//
	// The caller must not mutate the request after submitting it.
	Submit(req *Request) *Future
}

// Route identifies a rate-limited endpoint family independent of minor path parameters.
//
// Two requests with the same route share rate-limit state even if their full URLs
// differ. Route is comparable and can be used as a map key.
type Route struct {
	// Path is the templated path, e.g. "/channels/{channel.id}/messages".
	Path string
	// MajorParam is the resource id the server groups rate limits by (channel,
	// guild or webhook id). Empty for routes without one.
	MajorParam string
}

// NewRoute returns the route for a templated path and its major parameter.
func NewRoute(path, majorParam string) Route {
	return Route{Path: path, MajorParam: majorParam}
}

// String returns "path" or "path:major".
func (r Route) String() string {
	if r.MajorParam == "" {
		return r.Path
	}
	return r.Path + ":" + r.MajorParam
}

// Request describes an outbound REST call.
type Request struct {
	Route  Route
	Method string
	// Path is the concrete path relative to the API base URL, query string included.
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the raw result of a REST call that reached the server.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Future is the caller's end of a submitted request.
//
// The scheduler holds the other end (the resolve function returned by NewFuture);
// it resolves the future exactly once.
type Future struct {
	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

// NewFuture returns an unresolved future and the function that resolves it.
// Only the first call to resolve has an effect.
func NewFuture() (*Future, func(*Response, error)) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve
}

func (f *Future) resolve(resp *Response, err error) {
	f.once.Do(func() {
		f.resp = resp
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
//
// Cancelling ctx only stops waiting; the request stays scheduled.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
