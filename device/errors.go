package device

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-labrpc/cmdqueue"
)

var (
	// ErrOpen is matched by *OpenError.
	ErrOpen = errors.New("unable to open device")

	// ErrCommunication is matched by *CommunicationError.
	ErrCommunication = errors.New("communication error")

	// ErrTimeout is returned by transports when a read deadline passes before
	// the expected lines arrived.
	ErrTimeout = errors.New("timeout error")

	// ErrConfiguration is matched by *ConfigError and by invalid option values.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrClosed indicates the device was closed. It also matches cmdqueue.ErrNotRunning.
	ErrClosed = fmt.Errorf("device closed: %w", cmdqueue.ErrNotRunning)

	// ErrNotOpen is returned by transports that are asked to do I/O while closed.
	ErrNotOpen = errors.New("transport is not open")
)

// OpenError reports that a device never became reachable.
type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	if e.Err == nil {
		return "unable to open " + e.Device
	}

	return fmt.Sprintf("unable to open %s: %v", e.Device, e.Err)
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

func (e *OpenError) Unwrap() error { return e.Err }

// CommunicationError reports that every attempt of a command failed.
// Message holds the diagnostic of the last attempt.
type CommunicationError struct {
	Device  string
	Command string
	Message string
	Err     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication error for %s has occurred with the command %q: %s", e.Device, e.Command, e.Message)
}

func (e *CommunicationError) Is(target error) bool { return target == ErrCommunication }

func (e *CommunicationError) Unwrap() error { return e.Err }

// ConfigError reports a policy value below its minimum.
type ConfigError struct {
	Field string
	Value any
	Min   any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is %v but must be larger or equal to %v", e.Field, e.Value, e.Min)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }
