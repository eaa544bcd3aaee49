package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/config"
	"github.com/luciancaetano/kephascord/internal/events"
	"github.com/luciancaetano/kephascord/internal/gatewaytest"
	"github.com/luciancaetano/kephascord/internal/protocol"
	"github.com/luciancaetano/kephascord/internal/ratelimit"
	"github.com/luciancaetano/kephascord/internal/rest"
)

const testTimeout = 5 * time.Second

func testConfig(gatewayURL, baseURL string) *Config {
	return &Config{
		Token:   "token",
		Intents: int64(protocol.IntentsDefault),
		REST: config.RESTConfig{
			BaseURL:        baseURL,
			MaxAttempts:    3,
			AttemptTimeout: time.Second,
			RetryBackoff:   10 * time.Millisecond,
		},
		Gateway: config.GatewayConfig{
			URL:          gatewayURL,
			HelloTimeout: time.Second,
			MinBackoff:   10 * time.Millisecond,
			MaxBackoff:   50 * time.Millisecond,
		},
		Log: config.LogConfig{Level: "info"},
	}
}

// callbacks records interaction callbacks posted to the fake REST API.
type callbacks struct {
	mu    sync.Mutex
	paths []string
	items []rest.InteractionResponse
	got   chan struct{}
}

func newRESTServer(t *testing.T) (*httptest.Server, *callbacks) {
	t.Helper()

	cb := &callbacks{got: make(chan struct{}, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp rest.InteractionResponse
		_ = json.NewDecoder(r.Body).Decode(&resp)

		cb.mu.Lock()
		cb.paths = append(cb.paths, r.URL.Path)
		cb.items = append(cb.items, resp)
		cb.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
		cb.got <- struct{}{}
	}))
	t.Cleanup(srv.Close)
	return srv, cb
}

func newBot(t *testing.T, cfg *Config, opts *Options) *Bot {
	t.Helper()

	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	b, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

// TestNewInvalidConfig tests that an invalid configuration is rejected
func TestNewInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	assert.Error(t, err)

	cfg := testConfig("ws://localhost", "http://localhost")
	cfg.Token = ""
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig("ws://localhost", "http://localhost")
	cfg.Log.Level = "loud"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

// TestBotCommandRoundTrip tests a command arriving over the gateway and answered over REST
func TestBotCommandRoundTrip(t *testing.T) {
	t.Parallel()

	api, cb := newRESTServer(t)

	gw := gatewaytest.NewServer(nil)
	t.Cleanup(gw.Close)
	gw.Handle(protocol.OpIdentify, func(p *gatewaytest.Peer, _ gatewaytest.Command) {
		_ = p.Dispatch(events.TypeReady, 1, map[string]any{"session_id": "s1"})
		_ = p.Dispatch(events.TypeInteractionCreate, 2, map[string]any{
			"id":    "i1",
			"type":  2,
			"token": "tok",
			"data": map[string]any{
				"id":   "c1",
				"name": "echo",
				"type": 1,
				"options": []map[string]any{
					{"name": "text", "type": 3, "value": "hello"},
				},
			},
		})
	})

	b := newBot(t, testConfig(gw.URL(), api.URL), nil)

	readyCh := make(chan string, 1)
	On(b, func(_ context.Context, r *events.Ready) error {
		readyCh <- r.SessionID
		return nil
	})

	type echoArgs struct {
		Text string `option:"text,required"`
	}
	require.NoError(t, CommandFunc(b, "echo", func(ctx context.Context, cc *CommandContext, args echoArgs) error {
		return cc.Respond(ctx, args.Text)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	select {
	case id := <-readyCh:
		assert.Equal(t, "s1", id)
	case <-ctx.Done():
		t.Fatal("ready was not dispatched")
	}

	select {
	case <-cb.got:
	case <-ctx.Done():
		t.Fatal("interaction was not answered")
	}

	cb.mu.Lock()
	assert.Equal(t, []string{"/interactions/i1/tok/callback"}, cb.paths)
	assert.Equal(t, rest.CallbackChannelMessageWithSource, cb.items[0].Type)
	assert.Equal(t, "hello", cb.items[0].Data.Content)
	cb.mu.Unlock()

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, "disconnected", b.Session().State().String())
}

// TestBotRunFatal tests that Run reports a fatal session close
func TestBotRunFatal(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.NewServer(nil)
	t.Cleanup(gw.Close)
	gw.Handle(protocol.OpIdentify, func(p *gatewaytest.Peer, _ gatewaytest.Command) {
		_ = p.Close(kephascord.CloseAuthenticationFailed, "bad token")
	})

	b := newBot(t, testConfig(gw.URL(), "http://127.0.0.1:0"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := b.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, kephascord.ErrAuthenticationFailed)
	assert.True(t, kephascord.IsSessionFatal(err))
}

// TestBotRunTwice tests that a bot cannot run two sessions at once
func TestBotRunTwice(t *testing.T) {
	t.Parallel()

	gw := gatewaytest.NewServer(nil)
	t.Cleanup(gw.Close)

	b := newBot(t, testConfig(gw.URL(), "http://127.0.0.1:0"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	_, err := gw.NextPeer(ctx)
	require.NoError(t, err)

	err = b.Run(ctx)
	assert.ErrorIs(t, err, kephascord.ErrAlreadyRunning)

	cancel()
	assert.NoError(t, <-done)
}

// TestBotRequesterAndMetrics tests raw requests through the scheduler with metrics enabled
func TestBotRequesterAndMetrics(t *testing.T) {
	t.Parallel()

	transport := ratelimit.TransportFunc(func(context.Context, *kephascord.Request) (*kephascord.Response, error) {
		return &kephascord.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{"url":"wss://gw"}`)}, nil
	})

	cfg := testConfig("ws://localhost", "http://localhost")
	cfg.Metrics.Enabled = true

	reg := prometheus.NewRegistry()
	b := newBot(t, cfg, &Options{Registerer: reg, Transport: transport})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	gwInfo, err := b.REST().GetGatewayBot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wss://gw", gwInfo.URL)

	resp, err := b.Requester().Submit(&kephascord.Request{
		Route:  kephascord.NewRoute("/gateway", ""),
		Method: http.MethodGet,
		Path:   "/gateway",
	}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := testutil.GatherAndCount(reg, "kephascord_rest_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
