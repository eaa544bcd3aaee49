package ratelimit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephascord"
)

// TestHTTPTransport tests request construction and response capture
func TestHTTPTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/channels/1/messages", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, kephascord.DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "reason", r.Header.Get("X-Audit-Log-Reason"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"content":"hi"}`, string(body))

		w.Header().Set(HeaderRemaining, "4")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"9"}`))
	}))
	t.Cleanup(srv.Close)

	tr := NewHTTPTransport(srv.URL+"/", "secret")
	resp, err := tr.Do(context.Background(), &kephascord.Request{
		Route:  kephascord.NewRoute("/channels/{channel.id}/messages", "1"),
		Method: http.MethodPost,
		Path:   "/channels/1/messages",
		Header: http.Header{"X-Audit-Log-Reason": []string{"reason"}},
		Body:   []byte(`{"content":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "4", resp.Header.Get(HeaderRemaining))

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "9", out.ID)
}

// TestHTTPTransportErrorStatus tests that error statuses are returned as responses, not errors
func TestHTTPTransportErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":1}`))
	}))
	t.Cleanup(srv.Close)

	resp, err := NewHTTPTransport(srv.URL, "t").Do(context.Background(), &kephascord.Request{
		Method: http.MethodGet,
		Path:   "/gateway/bot",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

// TestHTTPTransportUnreachable tests that network failures surface as errors
func TestHTTPTransportUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(url, "t").Do(context.Background(), &kephascord.Request{Method: http.MethodGet, Path: "/"})
	assert.Error(t, err)
}
