// Package socket implements a line oriented TCP transport for devices.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/internal/linebuf"
	"github.com/arloliu/go-labrpc/logger"
)

// Transport is a TCP link exchanging terminated text lines.
//
// The methods are safe for concurrent use, but a Device serialises them anyway.
type Transport struct {
	cfg     *Config
	address string
	logger  logger.Logger

	mu   sync.Mutex
	conn net.Conn
	buf  *linebuf.Buffer
	rbuf []byte
}

var _ device.Transport = (*Transport)(nil)

// New creates a transport to host:port. It does not connect; the device opens it.
func New(host string, port int, opts ...Option) (*Transport, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d is out of range [0, 65535]", device.ErrConfiguration, port)
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))

	return &Transport{
		cfg:     cfg,
		address: address,
		logger:  cfg.logger.With("transport", "socket", "address", address),
		buf:     linebuf.New(cfg.readTerm),
		rbuf:    make([]byte, cfg.bufferSize),
	}, nil
}

// Address returns the remote address in host:port form.
func (t *Transport) Address() string {
	return t.address
}

// Open connects to the remote address.
func (t *Transport) Open() error {
	return t.Reopen()
}

// Reopen drops the current connection, if any, and dials again.
func (t *Transport) Reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()

	dialer := &net.Dialer{KeepAlive: t.cfg.keepAlive}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		t.logger.Debug("failed to dial", "error", err, "method", "reopen")
		return err
	}

	t.conn = conn
	t.logger.Debug("connected", "local_addr", conn.LocalAddr().String(), "method", "reopen")

	return nil
}

// IsOpen reports whether a connection is established.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

// Close closes the connection and drops buffered input.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	t.buf.Reset()
	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil

	return err
}

// Write sends command followed by the write termination.
func (t *Transport) Write(command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return device.ErrNotOpen
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := io.WriteString(t.conn, command+t.cfg.writeTerm); err != nil {
		return t.ioFailure("write", err)
	}

	return nil
}

// Read returns the next lines reply lines. It waits at most the configured
// timeout for all of them and fails with device.ErrTimeout otherwise.
// Lines received before the timeout stay buffered.
func (t *Transport) Read(lines int) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, device.ErrNotOpen
	}

	deadline := time.Now().Add(t.cfg.timeout)
	for t.buf.Lines() < lines {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := t.conn.Read(t.rbuf)
		if n > 0 {
			t.buf.Feed(t.rbuf[:n])
		}

		if err != nil {
			if isTimeout(err) {
				return nil, fmt.Errorf("%w: %s received %d of %d lines within %s",
					device.ErrTimeout, t.address, t.buf.Lines(), lines, t.cfg.timeout)
			}

			return nil, t.ioFailure("read", err)
		}
	}

	result := make([]string, 0, lines)
	for range lines {
		line, _ := t.buf.Next()
		result = append(result, line)
	}

	return result, nil
}

// Flush sends a bare write termination unless disabled, discards whatever the remote sends
// back within a short window, and clears the line buffer.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return device.ErrNotOpen
	}

	if t.cfg.flushProbe && t.cfg.writeTerm != "" {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.timeout))
		if _, err := io.WriteString(t.conn, t.cfg.writeTerm); err != nil {
			return t.ioFailure("flush", err)
		}
	}

	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(flushTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, err := t.conn.Read(t.rbuf)
		if err != nil {
			if !isTimeout(err) {
				return t.ioFailure("flush", err)
			}

			break
		}

		if n == 0 {
			break
		}
	}

	t.buf.Reset()

	return nil
}

// ioFailure closes a broken connection so the device reconnects on the next command.
func (t *Transport) ioFailure(op string, err error) error {
	t.logger.Debug("connection failed", "error", err, "method", op)
	_ = t.closeLocked()

	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: connection closed by remote: %w", op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
