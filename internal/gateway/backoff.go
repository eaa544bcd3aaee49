package gateway

import (
	"math/rand/v2"
	"time"
)

// backoff produces exponentially growing reconnect delays with up to 25%
// jitter, capped at max.
type backoff struct {
	min, max time.Duration
	current  time.Duration
}

func newBackoff(minDelay, maxDelay time.Duration) *backoff {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &backoff{min: minDelay, max: maxDelay, current: minDelay}
}

func (b *backoff) next() time.Duration {
	d := b.current
	if jitter := int64(d / 4); jitter > 0 {
		d += time.Duration(rand.Int64N(jitter))
	}
	d = min(d, b.max)

	b.current = min(b.current*2, b.max)
	return d
}

func (b *backoff) reset() {
	b.current = b.min
}
