package device

import "sync/atomic"

// Metrics contains atomic counters for a device.
// The counters can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// CommandCount is the number of commands executed.
	CommandCount atomic.Uint64
	// FailedCount is the number of commands that ended with an error.
	FailedCount atomic.Uint64
	// RetryCount is the number of attempts beyond the first one.
	RetryCount atomic.Uint64
	// ReconnectCount is the number of reopen attempts.
	ReconnectCount atomic.Uint64
}

func (m *Metrics) incCommand()   { m.CommandCount.Add(1) }
func (m *Metrics) incFailed()    { m.FailedCount.Add(1) }
func (m *Metrics) incRetry()     { m.RetryCount.Add(1) }
func (m *Metrics) incReconnect() { m.ReconnectCount.Add(1) }
