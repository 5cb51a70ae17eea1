// Package funcs implements a device transport over a table of Go functions.
//
// It stands in for instruments driven through a vendor library: Write parses
// "name arg1 arg2 ..." and calls the registered function, Read returns what
// that call produced.
package funcs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/arloliu/go-labrpc/device"
)

// ErrUnknownFunction is returned by Write for a name without registered function.
var ErrUnknownFunction = errors.New("unknown function")

// Func handles one command. args are the whitespace separated fields after the name.
type Func func(args []string) ([]string, error)

// Transport dispatches commands to registered functions.
type Transport struct {
	mu      sync.Mutex
	table   map[string]Func
	open    bool
	onOpen  func() error
	onClose func() error
	result  []string
	pending bool
}

var _ device.Transport = (*Transport)(nil)

// Option configures a function table transport.
type Option func(*Transport)

// WithFunc registers fn under name. Names are case sensitive.
func WithFunc(name string, fn Func) Option {
	return func(t *Transport) {
		t.table[name] = fn
	}
}

// WithOpen sets a hook run by Open and Reopen, for example to load a library.
func WithOpen(fn func() error) Option {
	return func(t *Transport) {
		t.onOpen = fn
	}
}

// WithClose sets a hook run by Close.
func WithClose(fn func() error) Option {
	return func(t *Transport) {
		t.onClose = fn
	}
}

// New creates a function table transport.
func New(opts ...Option) *Transport {
	t := &Transport{table: make(map[string]Func)}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Register adds or replaces a function.
func (t *Transport) Register(name string, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.table[name] = fn
}

// Open runs the open hook.
func (t *Transport) Open() error {
	return t.Reopen()
}

// Reopen runs the open hook again.
func (t *Transport) Reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.onOpen != nil {
		if err := t.onOpen(); err != nil {
			t.open = false
			return err
		}
	}
	t.open = true
	t.result, t.pending = nil, false

	return nil
}

// IsOpen reports whether Open succeeded and Close was not called since.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.open
}

// Close runs the close hook once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil
	}
	t.open = false
	t.result, t.pending = nil, false

	if t.onClose != nil {
		return t.onClose()
	}

	return nil
}

// Write calls the function named by the first field of command.
func (t *Transport) Write(command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return device.ErrNotOpen
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", ErrUnknownFunction)
	}

	fn, ok := t.table[fields[0]]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFunction, fields[0])
	}

	result, err := call(fn, fields[1:])
	if err != nil {
		t.result, t.pending = nil, false
		return fmt.Errorf("%s: %w", fields[0], err)
	}
	t.result, t.pending = result, true

	return nil
}

func call(fn Func, args []string) (result []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function panicked: %v", r)
		}
	}()

	return fn(args)
}

// Read returns the first lines values of the last call's result.
// The result is consumed by the first Read.
func (t *Transport) Read(lines int) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil, device.ErrNotOpen
	}

	if !t.pending {
		return nil, fmt.Errorf("%w: no function result pending", device.ErrTimeout)
	}

	result := t.result
	t.result, t.pending = nil, false

	if len(result) < lines {
		return nil, fmt.Errorf("function returned %d values but %d were requested", len(result), lines)
	}

	return result[:lines], nil
}

// Flush drops a pending result.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.result, t.pending = nil, false

	return nil
}
