package device

// Transport is the raw link to an instrument.
//
// A Device never calls a Transport from more than one goroutine at a time
// when its command queue is enabled.
type Transport interface {
	// Open establishes the link. IsOpen must report true afterwards unless an error is returned.
	Open() error
	// Write sends one command.
	Write(command string) error
	// Read returns exactly lines reply lines or an error.
	Read(lines int) ([]string, error)
	// Flush discards buffered input so the next command starts clean.
	Flush() error
	// Reopen re-establishes the link with the parameters given at construction.
	Reopen() error
	// IsOpen reports the actual state of the link.
	IsOpen() bool
	// Close releases the link. Closing a closed transport is a no-op.
	Close() error
}
