// Package memory provides the in-process work queue drained by the worker pool.
package memory

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO that is safe for concurrent use. TryDequeue never
// blocks, so a queue filled before the workers start can be drained without
// any wake-up coordination.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
}

// NewQueue constructs an empty queue with room for sizeHint items.
func NewQueue[T any](sizeHint int) *Queue[T] {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Queue[T]{items: make([]T, 0, sizeHint)}
}

// Enqueue appends item to the tail of the queue.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	return nil
}

// TryDequeue removes and returns the head of the queue. The second result is
// false when the queue is empty. Each item is handed to exactly one caller.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

// Len returns the number of items still waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects further Enqueue calls. Items already queued can still be
// dequeued. Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
