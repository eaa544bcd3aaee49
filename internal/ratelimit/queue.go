package ratelimit

import (
	"container/list"
	"time"

	"github.com/luciancaetano/kephascord"
)

// pending is a queued request together with the resolving end of its future.
type pending struct {
	id       string
	req      *kephascord.Request
	resolve  func(*kephascord.Response, error)
	attempts int
}

// routeQueue is the FIFO of one active route.
type routeQueue struct {
	route    kephascord.Route
	items    []*pending
	inFlight bool
	retryAt  time.Time
}

func (q *routeQueue) popFront() *pending {
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

func (q *routeQueue) pushFront(p *pending) {
	q.items = append([]*pending{p}, q.items...)
}

// routeQueues is an ordered map from route to its FIFO. A route is active
// exactly while it has an entry; entries are kept in first-seen order and a
// served route moves to the back so draining is round-robin across routes.
type routeQueues struct {
	order *list.List
	index map[kephascord.Route]*list.Element
}

func newRouteQueues() *routeQueues {
	return &routeQueues{
		order: list.New(),
		index: make(map[kephascord.Route]*list.Element),
	}
}

// push appends p to its route's FIFO, activating the route if needed.
func (r *routeQueues) push(p *pending) {
	e, ok := r.index[p.req.Route]
	if !ok {
		e = r.order.PushBack(&routeQueue{route: p.req.Route})
		r.index[p.req.Route] = e
	}
	q := e.Value.(*routeQueue)
	q.items = append(q.items, p)
}

func (r *routeQueues) get(route kephascord.Route) (*routeQueue, bool) {
	e, ok := r.index[route]
	if !ok {
		return nil, false
	}
	return e.Value.(*routeQueue), true
}

func (r *routeQueues) remove(e *list.Element) {
	q := e.Value.(*routeQueue)
	delete(r.index, q.route)
	r.order.Remove(e)
}

func (r *routeQueues) moveToBack(route kephascord.Route) {
	if e, ok := r.index[route]; ok {
		r.order.MoveToBack(e)
	}
}

// depth returns the number of queued, not yet dispatched requests.
func (r *routeQueues) depth() int {
	n := 0
	for e := r.order.Front(); e != nil; e = e.Next() {
		n += len(e.Value.(*routeQueue).items)
	}
	return n
}

// drainAll removes every queued request, leaving in-flight routes registered.
func (r *routeQueues) drainAll() []*pending {
	var out []*pending
	for e := r.order.Front(); e != nil; {
		next := e.Next()
		q := e.Value.(*routeQueue)
		out = append(out, q.items...)
		q.items = nil
		if !q.inFlight {
			r.remove(e)
		}
		e = next
	}
	return out
}
