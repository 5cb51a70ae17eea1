package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-labrpc/internal/linebuf"
	"github.com/arloliu/go-labrpc/logger"
	"github.com/arloliu/go-labrpc/proto"
)

// exceptionReply is sent when processing a request panics.
var exceptionReply = proto.Exception().String()

// maxPendingReads bounds an unterminated request to this many max size reads.
const maxPendingReads = 16

// Dispatcher turns one request line into one reply line without termination.
// *param.Node implements it.
type Dispatcher interface {
	Run(message string) string
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(message string) string

// Run calls f.
func (f DispatcherFunc) Run(message string) string { return f(message) }

// Channel is the server side of one client connection.
type Channel struct {
	id         string
	conn       net.Conn
	remote     string
	dispatcher Dispatcher
	cfg        *ServerConfig
	metrics    *ServerMetrics
	logger     logger.Logger

	buf  *linebuf.Buffer
	rbuf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newChannel(conn net.Conn, dispatcher Dispatcher, cfg *ServerConfig, metrics *ServerMetrics) *Channel {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()

	return &Channel{
		id:         id,
		conn:       conn,
		remote:     remote,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
		logger:     cfg.logger.With("channel_id", id, "remote_address", remote),
		buf:        linebuf.New(cfg.readTerm),
		rbuf:       make([]byte, cfg.maxMessageSize),
		closed:     make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Channel) ID() string { return c.id }

// RemoteAddr returns the client address.
func (c *Channel) RemoteAddr() string { return c.remote }

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// Read receives once, waiting at most the accept timeout, and answers every
// complete request line. It reports false once the client disconnected or
// the channel was closed; a poll without data reports true.
func (c *Channel) Read() bool {
	_, alive := c.poll()
	return alive
}

// poll is Read that also returns the number of processed requests.
func (c *Channel) poll() (processed int, alive bool) {
	select {
	case <-c.closed:
		return 0, false
	default:
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.acceptTimeout)); err != nil {
		c.Close()
		return 0, false
	}

	n, err := c.conn.Read(c.rbuf)
	if n > 0 {
		c.buf.Feed(c.rbuf[:n])
		for {
			line, ok := c.buf.Next()
			if !ok {
				break
			}
			processed++
			if werr := c.send(c.process(line)); werr != nil {
				c.logger.Debug("failed to send reply", "error", werr, "method", "read")
				c.Close()

				return processed, false
			}
		}

		if pending, limit := c.buf.Pending(), c.cfg.maxMessageSize*maxPendingReads; pending > limit {
			c.buf.Discard()
			c.logger.Warn("discarded unterminated request", "bytes", pending, "limit", limit, "method", "read")

			processed++
			out := proto.Failuref("Request exceeds %d bytes without read termination, discarded up to the next termination", limit)
			if werr := c.send(out.String()); werr != nil {
				c.Close()
				return processed, false
			}
		}
	}

	if err != nil {
		if isTimeout(err) {
			return processed, true
		}

		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("read failed", "error", err, "method", "read")
		}
		c.Close()

		return processed, false
	}

	return processed, true
}

// send counts and writes one reply line.
func (c *Channel) send(out string) error {
	c.metrics.incMessage()
	if !strings.HasPrefix(out, string(proto.StatusOK)+proto.Separator) {
		c.metrics.incFailedMessage()
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
		return err
	}

	_, err := io.WriteString(c.conn, out+c.cfg.writeTerm)

	return err
}

func (c *Channel) process(line string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("an exception occurred while processing the message",
				"message", line, "panic", fmt.Sprint(r), "method", "process")
			out = exceptionReply
		}
	}()

	return c.dispatcher.Run(line)
}

// Communicate serves the client until it disconnects or ctx is done.
// With force close enabled it returns after the first processed request.
func (c *Channel) Communicate(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, alive := c.poll()
		if !alive {
			return
		}

		if c.cfg.forceClose && processed > 0 {
			return
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
