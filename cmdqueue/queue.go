package cmdqueue

import (
	"context"
	"fmt"

	"github.com/arloliu/go-labrpc/logger"
)

// Operation is a unit of work submitted to a queue.
type Operation[T any] func() (T, error)

// Queue is the contract shared by Ring and Inline.
type Queue[T any] interface {
	// Call submits op and waits for its result. The error returned by op is
	// returned unchanged.
	Call(op Operation[T]) (T, error)
	// Post submits op without waiting. The ticket collects the result later.
	Post(op Operation[T]) (*Ticket[T], error)
	// Kill stops accepting operations. Operations queued before Kill still run.
	// Calling Kill more than once has no effect.
	Kill()
	// IsAlive reports whether the queue accepts operations.
	IsAlive() bool
	// Size returns the number of queued operations, including the one being executed.
	Size() int
	// Metrics returns the counters of the queue.
	Metrics() *Metrics
}

// Ticket is the handle of a posted operation.
type Ticket[T any] struct {
	id    int
	done  chan struct{}
	value T
	err   error
}

func newTicket[T any](id int) *Ticket[T] {
	return &Ticket[T]{id: id, done: make(chan struct{})}
}

// ID returns the slot index the operation was queued at.
func (t *Ticket[T]) ID() int {
	return t.id
}

// Done returns a channel that is closed once the operation finished.
func (t *Ticket[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the operation finished or ctx is done.
func (t *Ticket[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (t *Ticket[T]) complete(value T, err error) {
	t.value = value
	t.err = err
	close(t.done)
}

// execute runs op, turning a panic into an error wrapping ErrOperationPanic.
// Failures are logged as warnings and never stop the caller.
func execute[T any](l logger.Logger, name string, m *Metrics, op Operation[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrOperationPanic, r)
		}

		if err != nil {
			m.incFailed()
			l.Warn("an error occurred while processing an item in the queue", "queue", name, "error", err)
		} else {
			m.incCompleted()
		}
	}()

	return op()
}
