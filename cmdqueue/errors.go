package cmdqueue

import "errors"

var (
	// ErrQueueFull indicates the slot at the put position is still occupied,
	// the ring is saturated and the operation was not queued.
	ErrQueueFull = errors.New("queue is full")

	// ErrNotRunning indicates the queue was killed and no longer accepts operations.
	ErrNotRunning = errors.New("queue is not running and thus cannot be accessed")

	// ErrNilOperation indicates a nil operation was submitted.
	ErrNilOperation = errors.New("operation is nil")

	// ErrOperationPanic wraps a panic raised by an operation.
	ErrOperationPanic = errors.New("operation panicked")
)
