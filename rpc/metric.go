package rpc

import "sync/atomic"

// ServerMetrics contains atomic counters for a Server.
// The counters can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ServerMetrics struct {
	// AcceptedCount is the number of accepted connections.
	AcceptedCount atomic.Uint64
	// RejectedCount is the number of connections closed because MaxClients was reached.
	RejectedCount atomic.Uint64
	// ActiveChannels is the number of open channels.
	ActiveChannels atomic.Int64
	// MessageCount is the number of processed requests.
	MessageCount atomic.Uint64
	// FailedMessageCount is the number of requests answered with a failure reply.
	FailedMessageCount atomic.Uint64
}

func (m *ServerMetrics) incAccepted()      { m.AcceptedCount.Add(1) }
func (m *ServerMetrics) incRejected()      { m.RejectedCount.Add(1) }
func (m *ServerMetrics) incActive()        { m.ActiveChannels.Add(1) }
func (m *ServerMetrics) decActive()        { m.ActiveChannels.Add(-1) }
func (m *ServerMetrics) incMessage()       { m.MessageCount.Add(1) }
func (m *ServerMetrics) incFailedMessage() { m.FailedMessageCount.Add(1) }
