package cmdqueue

import (
	"sync"
	"sync/atomic"
)

type slot[T any] struct {
	op     Operation[T]
	kill   bool
	ticket *Ticket[T]
}

func (s *slot[T]) busy() bool {
	return s.op != nil || s.kill
}

// Ring is a bounded ring buffer of operations executed by one consumer goroutine.
//
// A slot belongs to the producer until it is filled and to the consumer until
// it is cleared after execution, so an occupied slot at the put position means
// the ring is full.
type Ring[T any] struct {
	cfg *Config

	mu     sync.Mutex
	cond   *sync.Cond
	slots  []slot[T]
	putPos int
	getPos int
	// drain is set when Kill found the ring full. The consumer stops once the ring is empty.
	drain bool

	alive   atomic.Bool
	exited  chan struct{}
	metrics Metrics
}

var _ Queue[int] = (*Ring[int])(nil)

// New creates a Ring and starts its consumer goroutine.
func New[T any](opts ...Option) (*Ring[T], error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	q := &Ring[T]{
		cfg:    cfg,
		slots:  make([]slot[T], cfg.size),
		exited: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.alive.Store(true)

	go q.consume()

	return q, nil
}

// Call submits op and blocks until the consumer executed it.
func (q *Ring[T]) Call(op Operation[T]) (T, error) {
	ticket, err := q.Post(op)
	if err != nil {
		var zero T
		return zero, err
	}

	<-ticket.done

	return ticket.value, ticket.err
}

// Post submits op and returns without waiting.
//
// It fails with ErrNotRunning after Kill and with ErrQueueFull when the slot
// at the put position is still occupied.
func (q *Ring[T]) Post(op Operation[T]) (*Ticket[T], error) {
	if op == nil {
		return nil, ErrNilOperation
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.alive.Load() {
		return nil, ErrNotRunning
	}

	id := q.putPos
	if q.slots[id].busy() {
		q.metrics.incRejected()
		return nil, ErrQueueFull
	}
	q.putPos = (q.putPos + 1) % len(q.slots)

	ticket := newTicket[T](id)
	q.slots[id] = slot[T]{op: op, ticket: ticket}
	q.metrics.incSubmitted()
	q.cond.Signal()

	return ticket, nil
}

// Kill stops accepting operations and queues the kill sentinel behind the
// pending ones. It does not wait; use Done for that.
func (q *Ring[T]) Kill() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.alive.CompareAndSwap(true, false) {
		return
	}

	id := q.putPos
	if q.slots[id].busy() {
		q.drain = true
	} else {
		q.slots[id] = slot[T]{kill: true}
		q.putPos = (q.putPos + 1) % len(q.slots)
	}
	q.cond.Signal()

	q.cfg.logger.Debug("queue killed", "queue", q.cfg.name)
}

// IsAlive reports whether the queue accepts operations.
func (q *Ring[T]) IsAlive() bool {
	return q.alive.Load()
}

// Done returns a channel that is closed when the consumer goroutine exited.
func (q *Ring[T]) Done() <-chan struct{} {
	return q.exited
}

// Size returns (putPos - getPos) mod size, or the ring size when every slot is occupied.
func (q *Ring[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.putPos - q.getPos
	if n < 0 {
		n += len(q.slots)
	}
	if n == 0 && q.slots[q.getPos].busy() {
		n = len(q.slots)
	}

	return n
}

// Capacity returns the number of slots.
func (q *Ring[T]) Capacity() int {
	return len(q.slots)
}

func (q *Ring[T]) Metrics() *Metrics {
	return &q.metrics
}

func (q *Ring[T]) consume() {
	defer close(q.exited)

	for {
		q.mu.Lock()
		for !q.slots[q.getPos].busy() {
			if q.drain {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		s := q.slots[q.getPos]
		q.mu.Unlock()

		if s.kill {
			q.release()
			return
		}

		value, err := execute(q.cfg.logger, q.cfg.name, &q.metrics, s.op)

		q.release()
		s.ticket.complete(value, err)
	}
}

// release clears the slot at the get position and advances it.
func (q *Ring[T]) release() {
	q.mu.Lock()
	q.slots[q.getPos] = slot[T]{}
	q.getPos = (q.getPos + 1) % len(q.slots)
	q.mu.Unlock()
}
