// Package bot wires the scheduler, REST client, gateway session, dispatcher
// and command router into one client.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/config"
	"github.com/luciancaetano/kephascord/internal/events"
	"github.com/luciancaetano/kephascord/internal/gateway"
	"github.com/luciancaetano/kephascord/internal/logging"
	"github.com/luciancaetano/kephascord/internal/protocol"
	"github.com/luciancaetano/kephascord/internal/ratelimit"
	"github.com/luciancaetano/kephascord/internal/rest"
)

type Config = config.Config
type Event = events.Event
type HandlerFunc = events.HandlerFunc
type CommandHandler = events.CommandHandler
type CommandContext = events.CommandContext
type Transport = ratelimit.Transport
type Intent = protocol.Intent

// LoadConfig reads the configuration from an optional file and KEPHASCORD_* environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Options carries dependencies that do not come from configuration.
type Options struct {
	// Logger overrides the logger built from Config.Log.
	Logger *zap.Logger
	// Registerer receives the metrics when Config.Metrics.Enabled is set.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Transport overrides the HTTP transport, mainly for tests.
	Transport Transport
	// Dialer overrides the gateway websocket dialer.
	Dialer *websocket.Dialer
	// OnError receives dispatch decode failures and handler errors.
	OnError func(err error)
}

// Bot is a connected client: REST calls go through a rate-limited scheduler
// and gateway events are dispatched to registered handlers.
type Bot struct {
	logger     *zap.Logger
	scheduler  *ratelimit.Scheduler
	rest       *rest.Client
	session    *gateway.Session
	dispatcher *events.Dispatcher
	router     *events.Router
}

// New creates a bot from cfg. Nothing connects until Run is called.
//
// Example:
//
//	cfg, err := bot.LoadConfig("bot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b, err := bot.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b.Command("ping", func(ctx context.Context, cc *bot.CommandContext) error {
//	    return cc.Respond(ctx, "pong")
//	})
//	log.Fatal(b.Run(ctx))
func New(cfg *Config, opts *Options) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("bot: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	var (
		restMetrics    *ratelimit.Metrics
		gatewayMetrics *gateway.Metrics
	)
	if cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		restMetrics = ratelimit.NewMetrics(reg)
		gatewayMetrics = gateway.NewMetrics(reg)
	}

	transport := opts.Transport
	if transport == nil {
		t := ratelimit.NewHTTPTransport(cfg.REST.BaseURL, cfg.Token)
		if cfg.REST.UserAgent != "" {
			t.UserAgent = cfg.REST.UserAgent
		}
		transport = t
	}

	scheduler := ratelimit.NewScheduler(&ratelimit.SchedulerConfig{
		Transport:      transport,
		MaxAttempts:    cfg.REST.MaxAttempts,
		AttemptTimeout: cfg.REST.AttemptTimeout,
		RetryBackoff:   cfg.REST.RetryBackoff,
		GlobalRate:     rate.Limit(cfg.REST.GlobalRate),
		GlobalBurst:    cfg.REST.GlobalBurst,
		Logger:         logger,
		Metrics:        restMetrics,
	})

	client := rest.NewClient(scheduler, logger)

	session := gateway.NewSession(&gateway.SessionConfig{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Token,
		Intents:        protocol.Intent(cfg.Intents),
		LargeThreshold: cfg.Gateway.LargeThreshold,
		HelloTimeout:   cfg.Gateway.HelloTimeout,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		MinBackoff:     cfg.Gateway.MinBackoff,
		MaxBackoff:     cfg.Gateway.MaxBackoff,
		Dialer:         opts.Dialer,
		Logger:         logger,
		Metrics:        gatewayMetrics,
	})

	dispatcher := events.NewDispatcher(&events.DispatcherConfig{
		Async:   cfg.Dispatch.Async,
		OnError: opts.OnError,
		Logger:  logger,
	})

	router := events.NewRouter(&events.RouterConfig{
		Responder: client,
		Logger:    logger,
	})
	router.Register(dispatcher)

	return &Bot{
		logger:     logger,
		scheduler:  scheduler,
		rest:       client,
		session:    session,
		dispatcher: dispatcher,
		router:     router,
	}, nil
}

// REST returns the resource client.
func (b *Bot) REST() *rest.Client {
	return b.rest
}

// Requester returns the rate-limited scheduler for raw requests.
func (b *Bot) Requester() kephascord.Requester {
	return b.scheduler
}

// Session returns the gateway session.
func (b *Bot) Session() *gateway.Session {
	return b.session
}

// Handle registers h for eventType, or for every event when eventType is events.Any.
func (b *Bot) Handle(eventType string, h HandlerFunc) {
	b.dispatcher.Register(eventType, h)
}

// Command registers h for an application command path such as "admin ban".
func (b *Bot) Command(path string, h CommandHandler) error {
	return b.router.Handle(path, h)
}

// On registers fn for the events of type T.
func On[T Event](b *Bot, fn func(ctx context.Context, ev T) error) {
	events.On(b.dispatcher, fn)
}

// CommandFunc registers fn for a command path, binding the invocation's options into a new T.
func CommandFunc[T any](b *Bot, path string, fn func(ctx context.Context, cc *CommandContext, args T) error) error {
	return events.HandleFunc(b.router, path, fn)
}

// Run connects to the gateway and dispatches events until ctx is cancelled
// or the session ends with a fatal error. It returns nil on cancellation.
func (b *Bot) Run(ctx context.Context) error {
	stream, err := b.session.Events(ctx)
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	b.logger.Info("bot running")

	for p := range stream {
		b.dispatcher.Dispatch(ctx, p)
	}
	b.dispatcher.Wait()

	if err := b.session.Err(); err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	return nil
}

// Close stops the scheduler. Queued requests fail with ErrSchedulerClosed and
// in-flight requests are awaited until ctx is done.
func (b *Bot) Close(ctx context.Context) error {
	err := b.scheduler.Shutdown(ctx)
	_ = b.logger.Sync()
	return err
}
