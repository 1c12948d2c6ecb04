// Package queue holds the hand-off point between the socket goroutines,
// which produce, and the tick loop, which is the only consumer.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO. With a limit set, pushing beyond
// the limit discards the oldest items.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
	ready   chan struct{}
}

// New creates a new empty, unbounded queue.
func New[T any]() *Queue[T] {
	return NewBounded[T](0)
}

// NewBounded creates a queue holding at most limit items. A limit of zero
// or less means unbounded.
func NewBounded[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{
		items: make([]T, 0),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends items to the queue.
func (q *Queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	if q.limit > 0 && len(q.items) > q.limit {
		over := len(q.items) - q.limit
		var zero T
		for i := 0; i < over; i++ {
			q.items[i] = zero
		}
		q.items = q.items[over:]
		q.dropped += uint64(over)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the first item. Returns false if empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items from the queue.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]T, 0)
}

// Drain returns all items in arrival order and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}

// Dropped returns how many items were discarded by the limit.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after a push. It coalesces, so one signal may stand
// for many pushes.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}
