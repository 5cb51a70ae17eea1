package rpc

import (
	"fmt"
	"strings"
)

// Mode selects how a Server serves its clients.
type Mode int

const (
	// Single serves one client at a time.
	Single Mode = iota
	// Multi polls all clients from the accept goroutine.
	Multi
	// Threaded serves each client on its own goroutine.
	Threaded
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case Multi:
		return "multi"
	case Threaded:
		return "threaded"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "single", "multi" or "threaded", ignoring case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return Single, nil
	case "multi":
		return Multi, nil
	case "threaded":
		return Threaded, nil
	default:
		return Single, fmt.Errorf("%w: %q is not one of single, multi, threaded", ErrInvalidMode, s)
	}
}
