package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luciancaetano/kephascord"
)

// Transport issues a single attempt of a request.
//
// Implementations return a Response for every reply that reached the server,
// whatever its status, and an error only for network or protocol failures.
type Transport interface {
	Do(ctx context.Context, req *kephascord.Request) (*kephascord.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *kephascord.Request) (*kephascord.Response, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req *kephascord.Request) (*kephascord.Response, error) {
	return f(ctx, req)
}

const maxResponseBody = 8 * 1024 * 1024

// HTTPTransport sends requests to the REST API over net/http.
type HTTPTransport struct {
	BaseURL   string
	Token     string
	UserAgent string
	Client    *http.Client
}

// NewHTTPTransport returns a transport for baseURL authenticating with a bot token.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		UserAgent: kephascord.DefaultUserAgent,
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Do implements Transport
func (t *HTTPTransport) Do(ctx context.Context, req *kephascord.Request) (*kephascord.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.BaseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kephascord.ErrFailedToBuildRequest, err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if t.Token != "" && httpReq.Header.Get("Authorization") == "" {
		httpReq.Header.Set("Authorization", "Bot "+t.Token)
	}
	if t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kephascord.ErrFailedToReadBody, err)
	}

	return &kephascord.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}
