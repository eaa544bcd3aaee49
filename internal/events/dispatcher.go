package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/protocol"
)

// HandlerFunc handles one decoded event.
type HandlerFunc func(ctx context.Context, ev Event) error

// DispatcherConfig defines the dispatcher's behaviour
type DispatcherConfig struct {
	// Async runs the handler chain of each dispatch in its own goroutine.
	// Handlers of one dispatch still run sequentially in registration order.
	Async bool
	// OnError receives decode failures and handler errors or panics.
	OnError func(err error)
	Logger  *zap.Logger
}

type registration struct {
	eventType string
	handler   HandlerFunc
}

// Dispatcher fans decoded events out to registered handlers.
type Dispatcher struct {
	async   bool
	onError func(err error)
	logger  *zap.Logger

	mu       sync.RWMutex
	handlers []registration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil config runs handlers sequentially.
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	if cfg == nil {
		cfg = &DispatcherConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		async:   cfg.Async,
		onError: cfg.OnError,
		logger:  logger.With(zap.String("component", "dispatcher")),
	}
}

// Register adds a handler for eventType, or for every event when eventType is Any.
func (d *Dispatcher) Register(eventType string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, registration{eventType: eventType, handler: h})
}

// On registers fn for the events of type T.
//
// Example:
//
//	events.On(d, func(ctx context.Context, m *events.MessageCreate) error {
//	    log.Println(m.Content)
//	    return nil
//	})
func On[T Event](d *Dispatcher, fn func(ctx context.Context, ev T) error) {
	var zero T
	eventType := Any
	if any(zero) != nil {
		eventType = zero.Type()
	}

	d.Register(eventType, func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	})
}

// Dispatch decodes a dispatch and runs its handlers.
//
// A payload that fails to decode is reported and dropped. A failing handler is
// reported and the remaining handlers still run.
func (d *Dispatcher) Dispatch(ctx context.Context, p *protocol.Dispatch) {
	ev, err := Decode(p)
	if err != nil {
		d.report(kephascord.Wrap(kephascord.ClassDecode, "dispatch "+p.Type, err), p)
		return
	}

	chain := d.chain(p.Type)
	if len(chain) == 0 {
		return
	}

	if !d.async {
		d.run(ctx, p, ev, chain)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, p, ev, chain)
	}()
}

// Wait blocks until every asynchronously dispatched handler chain has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// chain returns the handlers for eventType in registration order.
func (d *Dispatcher) chain(eventType string) []HandlerFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []HandlerFunc
	for _, r := range d.handlers {
		if r.eventType == eventType || r.eventType == Any {
			out = append(out, r.handler)
		}
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, p *protocol.Dispatch, ev Event, chain []HandlerFunc) {
	for _, h := range chain {
		if err := d.call(ctx, ev, h); err != nil {
			d.report(kephascord.Wrap(kephascord.ClassHandler, "handle "+p.Type, err), p)
		}
	}
}

func (d *Dispatcher) call(ctx context.Context, ev Event, h HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

func (d *Dispatcher) report(err error, p *protocol.Dispatch) {
	d.logger.Error("dispatch failed",
		zap.String("event", p.Type),
		zap.Int64("seq", p.Sequence),
		zap.Error(err))

	if d.onError != nil {
		d.onError(err)
	}
}
