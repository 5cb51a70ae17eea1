// Package proto implements the reply framing of the line oriented RPC protocol.
//
// Every reply line is "<status>|<payload>" where status is "1" on success and
// "0" on failure. The payload of a successful reply may hold several fields
// separated by "|".
package proto

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// StatusOK prefixes successful replies.
	StatusOK = '1'
	// StatusError prefixes failed replies.
	StatusError = '0'
	// Separator separates the status from the payload and payload fields from each other.
	Separator = "|"
	// ExceptionMessage is the payload sent when a request handler panics.
	// The panic value stays in the server log.
	ExceptionMessage = "An exception occured"
)

// ErrMalformedReply indicates a reply line without a valid status prefix.
var ErrMalformedReply = errors.New("malformed reply")

// Reply is a decoded reply line.
type Reply struct {
	OK      bool
	Message string
}

// Success returns a successful reply carrying msg.
func Success(msg string) Reply {
	return Reply{OK: true, Message: msg}
}

// Failure returns a failed reply carrying msg.
func Failure(msg string) Reply {
	return Reply{OK: false, Message: msg}
}

// Exception returns the failed reply sent for a panicking handler.
func Exception() Reply {
	return Failure(ExceptionMessage)
}

// Failuref formats a failed reply.
func Failuref(format string, args ...any) Reply {
	return Failure(fmt.Sprintf(format, args...))
}

// String encodes the reply without a line termination.
func (r Reply) String() string {
	status := StatusError
	if r.OK {
		status = StatusOK
	}

	return string(rune(status)) + Separator + r.Message
}

// Fields splits the message on the separator.
func (r Reply) Fields() []string {
	return strings.Split(r.Message, Separator)
}

// Err returns nil for a successful reply and an error carrying the message otherwise.
func (r Reply) Err() error {
	if r.OK {
		return nil
	}

	return &RemoteError{Message: r.Message}
}

// Decode parses a reply line. The termination must already be removed.
func Decode(line string) (Reply, error) {
	if len(line) < 2 || line[1:2] != Separator {
		return Reply{}, fmt.Errorf("%w: %q", ErrMalformedReply, line)
	}

	switch line[0] {
	case StatusOK:
		return Success(line[2:]), nil
	case StatusError:
		return Failure(line[2:]), nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown status %q", ErrMalformedReply, line[0])
	}
}

// Payload strips the two character status prefix and splits the rest on the separator.
// Lines shorter than the prefix yield a single empty field.
func Payload(line string) []string {
	if len(line) < 2 {
		return []string{""}
	}

	return strings.Split(line[2:], Separator)
}

// RemoteError is a failed reply returned by the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "an error occurred: " + e.Message
}
