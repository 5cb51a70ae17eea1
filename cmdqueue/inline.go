package cmdqueue

import "sync/atomic"

// Inline runs every operation in the calling goroutine. It has no consumer
// goroutine and never reports a non-zero size.
type Inline[T any] struct {
	cfg     *Config
	alive   atomic.Bool
	metrics Metrics
}

var _ Queue[int] = (*Inline[int])(nil)

// NewInline creates an Inline queue. WithSize is accepted and ignored.
func NewInline[T any](opts ...Option) (*Inline[T], error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	q := &Inline[T]{cfg: cfg}
	q.alive.Store(true)

	return q, nil
}

func (q *Inline[T]) Call(op Operation[T]) (T, error) {
	var zero T
	if op == nil {
		return zero, ErrNilOperation
	}
	if !q.alive.Load() {
		return zero, ErrNotRunning
	}

	q.metrics.incSubmitted()

	return execute(q.cfg.logger, q.cfg.name, &q.metrics, op)
}

// Post runs op immediately and returns a completed ticket with ID 0.
func (q *Inline[T]) Post(op Operation[T]) (*Ticket[T], error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if !q.alive.Load() {
		return nil, ErrNotRunning
	}

	q.metrics.incSubmitted()
	value, err := execute(q.cfg.logger, q.cfg.name, &q.metrics, op)

	ticket := newTicket[T](0)
	ticket.complete(value, err)

	return ticket, nil
}

func (q *Inline[T]) Kill() {
	q.alive.Store(false)
}

func (q *Inline[T]) IsAlive() bool {
	return q.alive.Load()
}

func (q *Inline[T]) Size() int {
	return 0
}

func (q *Inline[T]) Metrics() *Metrics {
	return &q.metrics
}
