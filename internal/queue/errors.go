package queue

import "errors"

var (
	// ErrFull is returned by TryPut when the queue is at capacity.
	ErrFull = errors.New("queue: full")

	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue: closed")
)
