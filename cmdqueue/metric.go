package cmdqueue

import "sync/atomic"

// Metrics contains atomic counters for a queue.
// The counters can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// SubmittedCount is the number of accepted operations.
	SubmittedCount atomic.Uint64
	// CompletedCount is the number of operations that returned without error.
	CompletedCount atomic.Uint64
	// FailedCount is the number of operations that returned an error or panicked.
	FailedCount atomic.Uint64
	// RejectedCount is the number of submissions refused with ErrQueueFull.
	RejectedCount atomic.Uint64
}

func (m *Metrics) incSubmitted() { m.SubmittedCount.Add(1) }
func (m *Metrics) incCompleted() { m.CompletedCount.Add(1) }
func (m *Metrics) incFailed()    { m.FailedCount.Add(1) }
func (m *Metrics) incRejected()  { m.RejectedCount.Add(1) }
