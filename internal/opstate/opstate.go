// Package opstate holds the open/close lifecycle shared by devices and servers.
package opstate

import "sync/atomic"

// State is a lifecycle state.
type State uint32

const (
	Closed State = iota
	Closing
	Opening
	Opened
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Closing:
		return "Closing"
	case Opening:
		return "Opening"
	case Opened:
		return "Opened"
	default:
		return "Unknown"
	}
}

// AtomicState is a lifecycle state that can be shared between goroutines.
// The zero value is Closed.
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

// Set stores state unconditionally.
func (st *AtomicState) Set(state State) {
	st.state.Store(uint32(state))
}

func (st *AtomicState) IsClosed() bool  { return st.Get() == Closed }
func (st *AtomicState) IsClosing() bool { return st.Get() == Closing }
func (st *AtomicState) IsOpening() bool { return st.Get() == Opening }
func (st *AtomicState) IsOpened() bool  { return st.Get() == Opened }

// ToOpening moves Closed to Opening. It reports false if another goroutine
// already started opening or the state is not Closed.
func (st *AtomicState) ToOpening() bool {
	return st.state.CompareAndSwap(uint32(Closed), uint32(Opening))
}

// ToOpened moves Opening to Opened.
func (st *AtomicState) ToOpened() bool {
	if st.IsOpened() {
		return true
	}

	return st.state.CompareAndSwap(uint32(Opening), uint32(Opened))
}

// ToClosing moves Opened or Opening to Closing. Only one caller wins.
func (st *AtomicState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(Opened), uint32(Closing)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(Opening), uint32(Closing))
}

// ToClosed moves Closing to Closed.
func (st *AtomicState) ToClosed() bool {
	if st.IsClosed() {
		return true
	}

	return st.state.CompareAndSwap(uint32(Closing), uint32(Closed))
}
