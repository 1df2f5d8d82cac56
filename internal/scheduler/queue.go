package scheduler

import (
	"slices"
	"sync"
)

// requestQueue is a thread-safe FIFO of pending requests.
//
// Submitters enqueue from any goroutine while the worker dequeues. The
// signal channel lets the worker wait with a context instead of blocking
// on a condition variable.
type requestQueue struct {
	mu     sync.Mutex
	items  []*Request
	limit  int
	closed bool
	signal chan struct{} // buffered, size 1
}

func newRequestQueue(limit int) *requestQueue {
	return &requestQueue{
		items:  make([]*Request, 0, 16),
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

func (q *requestQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// enqueue appends r. A limit of zero means unbounded.
func (q *requestQueue) enqueue(r *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrStopped
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, r)
	q.notify()
	return nil
}

// tryDequeue pops the head without blocking.
func (q *requestQueue) tryDequeue() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return r, true
}

// promote moves r to the head if it is still queued.
func (q *requestQueue) promote(r *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.items, r)
	if i < 0 {
		return false
	}
	if i > 0 {
		copy(q.items[1:i+1], q.items[:i])
		q.items[0] = r
	}
	return true
}

// remove drops r if it is still queued.
func (q *requestQueue) remove(r *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.items, r)
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

// wait returns a channel that fires when requests may be available or the
// queue was closed.
func (q *requestQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close stops further enqueues and wakes the worker. Queued requests stay
// until drained.
func (q *requestQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *requestQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// drain removes and returns every queued request.
func (q *requestQueue) drain() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}
