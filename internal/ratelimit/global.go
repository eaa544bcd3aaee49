package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GlobalLimiter is the single limiter shared by every route.
//
// It combines the block deadline signalled by global 429 responses with a
// proactive token bucket that keeps the client under the documented global
// request rate. The deadline is only read and written inside mu.
type GlobalLimiter struct {
	mu      sync.Mutex
	until   time.Time
	limiter *rate.Limiter
}

// NewGlobalLimiter returns a limiter pacing requests at perSecond with the given burst.
// A non-positive perSecond disables pacing; server-signalled blocks still apply.
func NewGlobalLimiter(perSecond rate.Limit, burst int) *GlobalLimiter {
	g := &GlobalLimiter{}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(perSecond, burst)
	}
	return g
}

// Block stops all routes for d. An existing longer block is kept.
func (g *GlobalLimiter) Block(d time.Duration) {
	until := time.Now().Add(d)

	g.mu.Lock()
	if until.After(g.until) {
		g.until = until
	}
	g.mu.Unlock()
}

// BlockedFor returns how long the limiter stays engaged after now.
func (g *GlobalLimiter) BlockedFor(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Before(g.until) {
		return g.until.Sub(now)
	}
	return 0
}

// Wait blocks until the limiter admits one request or ctx is done.
func (g *GlobalLimiter) Wait(ctx context.Context) error {
	for {
		for {
			d := g.BlockedFor(time.Now())
			if d <= 0 {
				break
			}
			if err := sleep(ctx, d); err != nil {
				return err
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		// A global 429 may have arrived while waiting for a token.
		if g.BlockedFor(time.Now()) <= 0 {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
