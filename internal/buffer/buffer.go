// Package buffer provides the unbounded FIFO queue that carries connection
// events to their dispatcher and journal entries to the database writer.
package buffer

import (
	"sync"
)

// Growable is an unbounded FIFO queue. Send never blocks or drops while the
// queue is open: a full ring doubles its backing array. After Close,
// receivers still get everything that was queued.
type Growable[T any] struct {
	mu       sync.Mutex
	nonEmpty sync.Cond
	ring     []T
	first    int
	n        int
	closed   bool

	stats Stats
}

// Stats describes queue depth and traffic.
type Stats struct {
	Queued   int   // items waiting now
	Peak     int   // deepest the queue has been
	Capacity int   // current ring size
	Sent     int64 // items accepted by Send
	Received int64 // items handed out by Receive, TryReceive or DrainTo
	Rejected int64 // Send calls refused after Close
	Grown    int   // times the ring doubled
}

// New creates a queue whose ring starts at size slots.
func New[T any](size int) *Growable[T] {
	q := &Growable[T]{ring: make([]T, max(size, 1))}
	q.nonEmpty.L = &q.mu
	return q
}

// Send enqueues item. It reports false once the queue is closed.
func (q *Growable[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.stats.Rejected++
		return false
	}
	if q.n == len(q.ring) {
		q.resize(2 * len(q.ring))
	}

	q.ring[(q.first+q.n)%len(q.ring)] = item
	q.n++
	q.stats.Sent++
	q.stats.Peak = max(q.stats.Peak, q.n)

	q.nonEmpty.Signal()
	return true
}

// Receive dequeues the oldest item, waiting for one if the queue is empty.
// It reports false once the queue is closed and empty.
func (q *Growable[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.n == 0 && !q.closed {
		q.nonEmpty.Wait()
	}
	return q.take()
}

// TryReceive dequeues the oldest item if there is one.
func (q *Growable[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

// DrainTo dequeues up to limit items in order, or every item when limit <= 0.
func (q *Growable[T]) DrainTo(limit int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.n
	if limit > 0 {
		n = min(n, limit)
	}
	if n == 0 {
		return nil
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, _ := q.take()
		out = append(out, item)
	}
	return out
}

// Close refuses further sends and wakes every waiting receiver.
func (q *Growable[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.nonEmpty.Broadcast()
}

// Len returns the number of queued items.
func (q *Growable[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Stats returns a snapshot of the queue counters.
func (q *Growable[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Queued = q.n
	s.Capacity = len(q.ring)
	return s
}

// take pops the head. The lock must be held.
func (q *Growable[T]) take() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	item := q.ring[q.first]
	q.ring[q.first] = zero
	q.first = (q.first + 1) % len(q.ring)
	q.n--
	q.stats.Received++
	return item, true
}

// resize moves the queued items to the front of a ring of the given size.
// The lock must be held.
func (q *Growable[T]) resize(size int) {
	ring := make([]T, size)
	head := copy(ring, q.ring[q.first:min(q.first+q.n, len(q.ring))])
	copy(ring[head:], q.ring[:q.n-head])

	q.ring = ring
	q.first = 0
	q.stats.Grown++
}
