// Package serialport implements a device transport over a serial line using go.bug.st/serial.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/internal/linebuf"
	"github.com/arloliu/go-labrpc/logger"
)

// pollInterval is the read timeout of a single port read. Read loops over it
// until the configured timeout passes.
const pollInterval = 50 * time.Millisecond

// Port is the subset of serial.Port the transport needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener opens the named port.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// Transport is a serial line link.
type Transport struct {
	cfg    *Config
	name   string
	logger logger.Logger

	mu   sync.Mutex
	port Port
	buf  *linebuf.Buffer
	rbuf []byte
}

var _ device.Transport = (*Transport)(nil)

// New creates a transport for the named port, for example "/dev/ttyUSB0" or "COM3".
func New(name string, opts ...Option) (*Transport, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: serial port name is empty", device.ErrConfiguration)
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:    cfg,
		name:   name,
		logger: cfg.logger.With("transport", "serial", "port", name),
		buf:    linebuf.New(cfg.readTerm),
		rbuf:   make([]byte, 1024),
	}, nil
}

// Name returns the port name.
func (t *Transport) Name() string {
	return t.name
}

// Open opens the port.
func (t *Transport) Open() error {
	return t.Reopen()
}

// Reopen closes the port if it is open and opens it again.
func (t *Transport) Reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()

	mode := t.cfg.mode
	port, err := t.cfg.opener(t.name, &mode)
	if err != nil {
		if ports, lerr := Ports(); lerr == nil {
			t.logger.Debug("failed to open port", "error", err, "available", ports, "method", "reopen")
		}

		return err
	}

	if err := port.SetReadTimeout(pollInterval); err != nil {
		_ = port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	t.port = port
	t.logger.Debug("port opened", "baud_rate", mode.BaudRate, "method", "reopen")

	return nil
}

// IsOpen reports whether the port is open.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

// Close closes the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	t.buf.Reset()
	if t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil

	return err
}

// Write sends command, followed by the write termination unless in bytes mode.
func (t *Transport) Write(command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return device.ErrNotOpen
	}

	data := command
	if !t.cfg.bytesMode {
		data += t.cfg.writeTerm
	}

	for written := 0; written < len(data); {
		n, err := t.port.Write([]byte(data[written:]))
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return errors.New("write: port accepted no bytes")
		}
		written += n
	}

	return nil
}

// Read returns lines reply lines, or lines bytes in bytes mode.
func (t *Transport) Read(lines int) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, device.ErrNotOpen
	}

	if t.cfg.bytesMode {
		return t.readBytes(lines)
	}

	deadline := time.Now().Add(t.cfg.timeout)
	for t.buf.Lines() < lines {
		if err := t.fill(deadline); err != nil {
			return nil, fmt.Errorf("%w: %s received %d of %d lines", err, t.name, t.buf.Lines(), lines)
		}
	}

	result := make([]string, 0, lines)
	for range lines {
		line, _ := t.buf.Next()
		result = append(result, line)
	}

	return result, nil
}

func (t *Transport) readBytes(count int) ([]string, error) {
	deadline := time.Now().Add(t.cfg.timeout)
	for t.buf.Pending() < count {
		if err := t.fill(deadline); err != nil {
			return nil, fmt.Errorf("%w: %s received %d of %d bytes", err, t.name, t.buf.Pending(), count)
		}
	}

	raw := t.buf.Take(count)
	result := make([]string, len(raw))
	for i, b := range raw {
		result[i] = string([]byte{b})
	}

	return result, nil
}

// fill performs one port read. It fails with device.ErrTimeout once deadline passed.
func (t *Transport) fill(deadline time.Time) error {
	if time.Now().After(deadline) {
		return device.ErrTimeout
	}

	n, err := t.port.Read(t.rbuf)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	if n > 0 {
		if t.cfg.bytesMode {
			t.buf.Append(t.rbuf[:n])
		} else {
			t.buf.Feed(t.rbuf[:n])
		}
	}

	return nil
}

// Flush resets the port's input and output buffers and drops buffered lines.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return device.ErrNotOpen
	}

	t.buf.Reset()

	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}

	if err := t.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("reset output buffer: %w", err)
	}

	return nil
}
