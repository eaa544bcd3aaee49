package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephascord"
)

// SchedulerConfig defines the scheduler's retry and limiting policy
type SchedulerConfig struct {
	// Transport issues the underlying calls. Required.
	Transport Transport
	// MaxAttempts is the number of attempts a request may use when it keeps
	// getting rate limited, timing out or hitting a gateway error.
	MaxAttempts int
	// AttemptTimeout bounds a single network call.
	AttemptTimeout time.Duration
	// RetryBackoff is the delay before retrying a timed out attempt, and the
	// fallback delay for a 429 without retry_after.
	RetryBackoff time.Duration
	// GlobalRate and GlobalBurst pace all routes together. A zero GlobalRate disables pacing.
	GlobalRate  rate.Limit
	GlobalBurst int

	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultSchedulerConfig returns the default scheduler configuration
// 5 attempts, 15s per attempt, 1s retry backoff, 50 requests per second globally
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxAttempts:    5,
		AttemptTimeout: 15 * time.Second,
		RetryBackoff:   time.Second,
		GlobalRate:     50,
		GlobalBurst:    50,
	}
}

// errShutdown reports an attempt abandoned before reaching the network.
var errShutdown = errors.New("scheduler shutting down")

// Scheduler is a rate-limited request scheduler.
//
// Requests are queued per route. A single drainer walks the active routes in
// round-robin order and issues the head of every route that has no request in
// flight, no pending retry delay and a bucket that is not exhausted. Each
// attempt then waits on the global limiter before hitting the network.
type Scheduler struct {
	transport      Transport
	global         *GlobalLimiter
	maxAttempts    int
	attemptTimeout time.Duration
	retryBackoff   time.Duration
	logger         *zap.Logger
	metrics        *Metrics

	mu      sync.Mutex
	queues  *routeQueues
	buckets *BucketTable
	closed  bool

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler and starts its drainer.
//
// Zero fields in cfg fall back to DefaultSchedulerConfig values. If cfg is nil
// the defaults are used, which leaves the scheduler without a transport; every
// request then fails.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = TransportFunc(func(context.Context, *kephascord.Request) (*kephascord.Response, error) {
			return nil, errors.New("no transport configured")
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		transport:      transport,
		global:         NewGlobalLimiter(cfg.GlobalRate, cfg.GlobalBurst),
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout,
		retryBackoff:   cfg.RetryBackoff,
		logger:         logger.With(zap.String("component", "scheduler")),
		metrics:        cfg.Metrics,
		queues:         newRouteQueues(),
		buckets:        NewBucketTable(),
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go s.drain()

	return s
}

// Submit implements kephascord.Requester
func (s *Scheduler) Submit(req *kephascord.Request) *kephascord.Future {
	fut, resolve := kephascord.NewFuture()
	if req == nil {
		resolve(nil, kephascord.Wrap(kephascord.ClassTerminalRequest, "submit", errors.New("nil request")))
		return fut
	}

	p := &pending{id: uuid.NewString(), req: req, resolve: resolve}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		resolve(nil, kephascord.ErrSchedulerClosed)
		return fut
	}
	s.queues.push(p)
	s.metrics.setQueueDepth(s.queues.depth())
	s.mu.Unlock()

	s.logger.Debug("request queued",
		zap.String("request_id", p.id),
		zap.String("route", req.Route.String()),
		zap.String("method", req.Method))

	s.signal()
	return fut
}

// Global returns the limiter shared by all routes.
func (s *Scheduler) Global() *GlobalLimiter {
	return s.global
}

// Bucket returns a snapshot of the bucket currently mapped to route.
func (s *Scheduler) Bucket(route kephascord.Route) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets.Peek(route)
}

// Pending returns the number of queued, not yet dispatched requests for route.
func (s *Scheduler) Pending(route kephascord.Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues.get(route)
	if !ok {
		return 0
	}
	return len(q.items)
}

// Close stops the scheduler. Queued requests resolve with ErrSchedulerClosed;
// in-flight attempts are allowed to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	drained := s.queues.drainAll()
	s.metrics.setQueueDepth(0)
	s.mu.Unlock()

	s.cancel()
	<-s.done

	for _, p := range drained {
		p.resolve(nil, kephascord.ErrSchedulerClosed)
	}

	s.logger.Info("scheduler closed", zap.Int("cancelled", len(drained)))
}

// Shutdown closes the scheduler and waits for in-flight attempts to finish
// or ctx to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Close()

	finished := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain is the scheduler's only dispatching goroutine.
func (s *Scheduler) drain() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if next := s.dispatchReady(); next > 0 {
			timer.Reset(next)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// dispatchReady issues the head of every eligible route and returns the time
// until the earliest blocked route may become eligible (0 when none).
func (s *Scheduler) dispatchReady() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	now := time.Now()
	if d := s.global.BlockedFor(now); d > 0 {
		return d
	}

	var (
		wait   time.Duration
		served []kephascord.Route
	)

	for e := s.queues.order.Front(); e != nil; {
		next := e.Next()
		q := e.Value.(*routeQueue)

		switch {
		case q.inFlight:
		case len(q.items) == 0:
			s.queues.remove(e)
		default:
			bucket := s.buckets.Get(q.route)
			d := max(q.retryAt.Sub(now), bucket.Wait(now))
			if d > 0 {
				if wait == 0 || d < wait {
					wait = d
				}
				break
			}

			p := q.popFront()
			q.inFlight = true
			bucket.take()
			served = append(served, q.route)

			s.inflight.Add(1)
			go s.execute(q, p)
		}

		e = next
	}

	for _, route := range served {
		s.queues.moveToBack(route)
	}
	s.metrics.setQueueDepth(s.queues.depth())

	return wait
}

// execute runs one attempt of p and settles its outcome.
func (s *Scheduler) execute(q *routeQueue, p *pending) {
	defer s.inflight.Done()
	defer s.signal()

	route := q.route
	p.attempts++

	s.logger.Debug("issuing request",
		zap.String("request_id", p.id),
		zap.String("route", route.String()),
		zap.Int("attempt", p.attempts))

	start := time.Now()
	resp, err := s.attempt(p)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	q.inFlight = false
	now := time.Now()
	op := p.req.Method + " " + route.String()

	switch {
	case errors.Is(err, errShutdown):
		p.resolve(nil, kephascord.ErrSchedulerClosed)

	case isTimeout(err):
		s.metrics.observeAttempt(route.Path, "timeout", elapsed)
		s.logger.Warn("request attempt timed out",
			zap.String("request_id", p.id),
			zap.String("route", route.String()),
			zap.Int("attempt", p.attempts))
		q.retryAt = now.Add(s.retryBackoff)
		s.retryOrFail(q, p, op, kephascord.ErrAttemptTimeout)

	case err != nil:
		s.metrics.observeAttempt(route.Path, "error", elapsed)
		p.resolve(nil, kephascord.Wrap(kephascord.ClassTransient, op, err))

	default:
		s.metrics.observeAttempt(route.Path, strconv.Itoa(resp.StatusCode), elapsed)
		info := ParseRateLimit(resp)
		s.buckets.Update(route, info, now)
		s.settle(q, p, op, resp, info, now)
	}
}

// settle resolves or requeues p after a response. Callers hold s.mu.
func (s *Scheduler) settle(q *routeQueue, p *pending, op string, resp *kephascord.Response, info RateLimitInfo, now time.Time) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry := info.RetryAfter
		if retry <= 0 {
			retry = s.retryBackoff
		}

		scope := info.Scope
		if info.Global {
			scope = ScopeGlobal
			s.global.Block(retry)
		} else {
			if scope == "" {
				scope = ScopeUser
			}
			s.buckets.Exhaust(q.route, now.Add(retry))
		}
		s.metrics.observeRateLimit(scope)

		s.logger.Warn("rate limited",
			zap.String("request_id", p.id),
			zap.String("route", q.route.String()),
			zap.String("scope", scope),
			zap.Duration("retry_after", retry),
			zap.Int("attempt", p.attempts))

		s.retryOrFail(q, p, op, kephascord.ErrRateLimited)

	case isRetryableStatus(resp.StatusCode):
		q.retryAt = now.Add(s.retryBackoff)
		s.retryOrFail(q, p, op, newHTTPError(resp))

	case resp.StatusCode >= 400:
		p.resolve(nil, kephascord.Wrap(kephascord.ClassTerminalRequest, op, newHTTPError(resp)))

	default:
		p.resolve(resp, nil)
	}
}

// retryOrFail requeues p at the head of its route or fails it once its
// attempts are used up. Callers hold s.mu.
func (s *Scheduler) retryOrFail(q *routeQueue, p *pending, op string, cause error) {
	switch {
	case p.attempts >= s.maxAttempts:
		s.logger.Warn("request failed after retries",
			zap.String("request_id", p.id),
			zap.String("route", q.route.String()),
			zap.Int("attempts", p.attempts),
			zap.Error(cause))
		p.resolve(nil, kephascord.Wrap(kephascord.ClassTransient, op,
			fmt.Errorf("%w after %d attempts", cause, p.attempts)))
	case s.closed:
		p.resolve(nil, kephascord.ErrSchedulerClosed)
	default:
		q.pushFront(p)
	}
}

func (s *Scheduler) attempt(p *pending) (*kephascord.Response, error) {
	if err := s.global.Wait(s.ctx); err != nil {
		return nil, errShutdown
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.attemptTimeout)
	defer cancel()

	return s.transport.Do(ctx, p.req)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func newHTTPError(resp *kephascord.Response) *kephascord.HTTPError {
	herr := &kephascord.HTTPError{StatusCode: resp.StatusCode, Body: resp.Body}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if resp.JSON(&body) == nil {
		herr.Code = body.Code
		herr.Message = body.Message
	}
	return herr
}
