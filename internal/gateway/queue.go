package gateway

import (
	"context"
	"sync"

	"github.com/luciancaetano/kephascord/internal/protocol"
)

// dispatchQueue holds dispatches between the read loop and the consumer.
// Pushes never block, so control frames keep being read while the consumer
// is busy. The queue outlives connections: dispatches read before a
// disconnect are still delivered, in order, ahead of those of the next one.
type dispatchQueue struct {
	mu     sync.Mutex
	items  []*protocol.Dispatch
	closed bool
	ready  chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{ready: make(chan struct{}, 1)}
}

func (q *dispatchQueue) push(d *protocol.Dispatch) int {
	q.mu.Lock()
	q.items = append(q.items, d)
	n := len(q.items)
	q.mu.Unlock()

	q.signal()
	return n
}

// close lets pop drain what is left and then report the end of the queue.
func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *dispatchQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns the oldest dispatch and the number still queued. It blocks
// while the queue is empty and returns false once it is closed and drained
// or ctx is done.
func (q *dispatchQueue) pop(ctx context.Context) (*protocol.Dispatch, int, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			n := len(q.items)
			q.mu.Unlock()
			return d, n, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, 0, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, 0, false
		}
	}
}
