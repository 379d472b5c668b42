package queue

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO safe for many producers and one consumer.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Every mutation wakes goroutines blocked in Put/Get or selecting on Ready.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	// changed is closed and replaced on every mutation.
	changed chan struct{}
}

// New creates a queue holding at most capacity items. A capacity below one
// is treated as one.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// notify wakes all waiters. Caller must hold q.mu.
func (q *Queue[T]) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// TryPut appends v without blocking, returning ErrFull at capacity.
func (q *Queue[T]) TryPut(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, v)
	q.notify()
	return nil
}

// Put appends v, blocking while the queue is full. It returns ctx.Err()
// if the context ends first, in which case v was not enqueued.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, v)
			q.notify()
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// TryGet removes and returns the head item, if any.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.notify()
	return v, true
}

// Get removes and returns the head item, blocking while the queue is empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryGet(); ok {
			return v, nil
		}

		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		changed := q.changed
		empty := len(q.items) == 0
		q.mu.Unlock()

		if !empty {
			continue
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-changed:
		}
	}
}

// Drain removes and returns every queued item in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := make([]T, len(q.items))
	copy(out, q.items)
	q.items = make([]T, 0, q.capacity)
	q.notify()
	return out
}

// Ready returns a channel that is closed on the next mutation. Consumers
// select on it and then call TryGet.
func (q *Queue[T]) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// Close rejects further puts and wakes all waiters. Items already queued
// can still be taken.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notify()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}
