// Package cmdqueue serializes operations against a single device.
//
// A Ring is a bounded ring buffer drained by one consumer goroutine: every
// operation submitted to it runs on that goroutine, in submission order, so
// the operations never overlap. Submitting into a saturated ring fails with
// ErrQueueFull instead of blocking or overwriting queued work.
//
// Inline satisfies the same Queue contract but runs each operation in the
// calling goroutine. Code written against Queue does not need to know which
// one it is using.
//
// Example:
//
//	q, err := cmdqueue.New[string](cmdqueue.WithSize(64), cmdqueue.WithName("laser"))
//	if err != nil {
//	    return err
//	}
//	defer q.Kill()
//
//	reply, err := q.Call(func() (string, error) {
//	    return dev.Query("POW?")
//	})
package cmdqueue
