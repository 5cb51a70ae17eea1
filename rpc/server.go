package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-labrpc/internal/opstate"
	"github.com/arloliu/go-labrpc/internal/task"
	"github.com/arloliu/go-labrpc/logger"
)

// Server accepts clients and answers their requests with a Dispatcher.
type Server struct {
	ctx        context.Context
	cfg        *ServerConfig
	dispatcher Dispatcher
	logger     logger.Logger
	metrics    ServerMetrics

	opState opstate.AtomicState
	taskMgr *task.Manager

	listenerMu sync.Mutex
	listener   *net.TCPListener

	// every open channel, for Close and MaxClients
	channels *xsync.MapOf[string, *Channel]
	// channels polled by the accept goroutine in Multi mode; only that goroutine touches it
	polled []*Channel
}

// NewServer creates a server. It does not listen until Open is called.
func NewServer(ctx context.Context, dispatcher Dispatcher, cfg *ServerConfig) (*Server, error) {
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	if cfg == nil {
		return nil, errors.New("server config is nil")
	}

	l := cfg.logger.With("component", "rpc-server", "mode", cfg.mode.String())

	return &Server{
		ctx:        ctx,
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     l,
		taskMgr:    task.NewManager(ctx, l),
		channels:   xsync.NewMapOf[string, *Channel](),
	}, nil
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig { return s.cfg }

// Metrics returns the server counters.
func (s *Server) Metrics() *ServerMetrics { return &s.metrics }

// IsOpen reports whether the server is listening.
func (s *Server) IsOpen() bool { return s.opState.IsOpened() }

// Open starts listening and accepting clients.
func (s *Server) Open() error {
	if !s.opState.ToOpening() {
		return ErrAlreadyOpen
	}

	address := net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))

	var lc net.ListenConfig
	ln, err := lc.Listen(s.ctx, "tcp", address)
	if err != nil {
		s.logger.Error("failed to listen", "address", address, "error", err)
		s.opState.Set(opstate.Closed)

		return fmt.Errorf("listen on %s: %w", address, err)
	}

	tcpListener, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		s.opState.Set(opstate.Closed)

		return fmt.Errorf("unexpected listener type %T", ln)
	}

	s.listenerMu.Lock()
	s.listener = tcpListener
	s.listenerMu.Unlock()

	if err := s.taskMgr.Start("acceptLoop", s.acceptOnce); err != nil {
		s.closeListener()
		s.opState.Set(opstate.Closed)

		return err
	}

	s.opState.ToOpened()
	s.logger.Info("server listening", "address", tcpListener.Addr().String())

	return nil
}

// Addr returns the listen address, or nil when the server is not open.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// IP returns the configured host and the port actually listened on.
func (s *Server) IP() (string, int) {
	if addr, ok := s.Addr().(*net.TCPAddr); ok && addr != nil {
		return s.cfg.host, addr.Port
	}

	return s.cfg.host, s.cfg.port
}

// ChannelCount returns the number of open channels.
func (s *Server) ChannelCount() int {
	return s.channels.Size()
}

// Close stops accepting, closes every channel and waits for the server goroutines.
// Closing a closed server is a no-op.
func (s *Server) Close() error {
	if !s.opState.ToClosing() {
		return nil
	}

	s.logger.Debug("closing server", "method", "close")

	s.taskMgr.Stop()
	err := s.closeListener()

	s.channels.Range(func(_ string, ch *Channel) bool {
		ch.Close()
		return true
	})

	if !s.taskMgr.WaitTimeout(s.cfg.closeTimeout) {
		s.logger.Warn("timeout waiting for server tasks", "timeout", s.cfg.closeTimeout, "task_count", s.taskMgr.TaskCount())
	}

	s.opState.ToClosed()
	s.logger.Info("server closed")

	return err
}

func (s *Server) closeListener() error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	err := s.listener.Close()
	s.listener = nil

	return err
}

func (s *Server) getTCPListener() *net.TCPListener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	if err := s.listener.SetDeadline(time.Now().Add(s.cfg.acceptTimeout)); err != nil {
		s.logger.Error("failed to set deadline for tcp listener", "error", err)
		return nil
	}

	return s.listener
}

// acceptOnce is one iteration of the accept loop.
func (s *Server) acceptOnce(ctx context.Context) bool {
	tcpListener := s.getTCPListener()
	// listener already closed
	if tcpListener == nil {
		s.dropPolled()
		return false
	}

	conn, err := tcpListener.Accept()
	if err != nil {
		if isTimeout(err) {
			select {
			case <-ctx.Done():
				s.logger.Debug("accept canceled by context", "method", "acceptOnce")
				s.dropPolled()

				return false
			default:
			}

			if s.cfg.mode == Multi {
				s.pollChannels()
			}

			return true
		}

		if s.opState.IsOpened() || s.opState.IsOpening() {
			s.logger.Error("failed to accept connection", "method", "acceptOnce", "error", err)
			return true
		}

		s.dropPolled()

		return false
	}

	s.metrics.incAccepted()

	if s.channels.Size() >= s.cfg.maxClients {
		s.metrics.incRejected()
		s.logger.Warn("too many clients, closing connection", "method", "acceptOnce",
			"remote_address", conn.RemoteAddr().String(), "max_clients", s.cfg.maxClients)
		_ = conn.Close()

		return true
	}

	ch := newChannel(conn, s.dispatcher, s.cfg, &s.metrics)
	s.register(ch)

	switch s.cfg.mode {
	case Single:
		ch.Communicate(ctx)
		s.unregister(ch)
	case Multi:
		s.polled = append(s.polled, ch)
	case Threaded:
		err := s.taskMgr.Go("channel-"+ch.ID(), ch.Communicate, func() { s.unregister(ch) })
		if err != nil {
			ch.Close()
			s.unregister(ch)
		}
	}

	return true
}

// pollChannels reads once from every Multi mode channel, newest first, and drops closed ones.
func (s *Server) pollChannels() {
	for i := len(s.polled) - 1; i >= 0; i-- {
		ch := s.polled[i]
		if ch.Read() {
			continue
		}

		s.polled = append(s.polled[:i], s.polled[i+1:]...)
		s.unregister(ch)
	}
}

func (s *Server) dropPolled() {
	for _, ch := range s.polled {
		ch.Close()
		s.unregister(ch)
	}
	s.polled = nil
}

func (s *Server) register(ch *Channel) {
	s.channels.Store(ch.ID(), ch)
	s.metrics.incActive()
	s.logConnection("established connection", ch)
}

func (s *Server) unregister(ch *Channel) {
	if _, ok := s.channels.LoadAndDelete(ch.ID()); !ok {
		return
	}
	s.metrics.decActive()
	s.logConnection("closed connection", ch)
}

func (s *Server) logConnection(msg string, ch *Channel) {
	if s.cfg.displayConnection {
		s.logger.Info(msg, "remote_address", ch.RemoteAddr(), "channel_id", ch.ID())
		return
	}

	s.logger.Debug(msg, "remote_address", ch.RemoteAddr(), "channel_id", ch.ID())
}
