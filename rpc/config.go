package rpc

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/go-labrpc/logger"
)

const (
	// DefaultMaxClients is the default bound on concurrently open channels.
	DefaultMaxClients = 100
	// DefaultMaxMessageSize is the default size of one socket read.
	DefaultMaxMessageSize = 4096
	// DefaultAcceptTimeout is the default accept and poll timeout.
	DefaultAcceptTimeout = 10 * time.Millisecond
)

// ServerConfig holds the settings of a Server.
type ServerConfig struct {
	// host is the address to listen on. Empty means the local hostname.
	host string
	// port to listen on. Zero picks a free port.
	port int

	// mode defaults to Single.
	mode Mode

	// maxClients bounds concurrently open channels; excess connections are
	// closed right after accept.
	// Defaults to 100.
	maxClients int

	// maxMessageSize is the number of bytes read from a client at once.
	// Defaults to 4096.
	maxMessageSize int

	// readTerm ends a request, writeTerm ends a reply.
	// Both default to "\n".
	readTerm  string
	writeTerm string

	// acceptTimeout bounds one accept call and one channel poll. Stop requests
	// are noticed within this period.
	// Defaults to 10 milliseconds.
	acceptTimeout time.Duration

	// writeTimeout bounds sending one reply.
	// Defaults to 5 seconds.
	writeTimeout time.Duration

	// displayConnection logs client connects and disconnects at info level.
	// Defaults to true.
	displayConnection bool

	// forceClose closes a channel after its first processed request.
	forceClose bool

	// closeTimeout bounds how long Close waits for channel goroutines.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	logger logger.Logger
}

// NewServerConfig creates a server configuration for host:port.
//
// An empty host is replaced with the local hostname. See the WithXXX
// functions for the available options.
func NewServerConfig(host string, port int, opts ...ServerOption) (*ServerConfig, error) {
	cfg := &ServerConfig{
		mode:              Single,
		maxClients:        DefaultMaxClients,
		maxMessageSize:    DefaultMaxMessageSize,
		readTerm:          "\n",
		writeTerm:         "\n",
		acceptTimeout:     DefaultAcceptTimeout,
		writeTimeout:      5 * time.Second,
		displayConnection: true,
		closeTimeout:      3 * time.Second,
		logger:            logger.GetLogger(),
	}

	if host == "" {
		name, err := os.Hostname()
		if err != nil {
			return cfg, fmt.Errorf("resolve hostname: %w", err)
		}
		host = name
	}
	cfg.host = host

	if port < 0 || port > 65535 {
		return cfg, fmt.Errorf("port %d is out of range [0, 65535]", port)
	}
	cfg.port = port

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Host returns the listen host.
func (cfg *ServerConfig) Host() string { return cfg.host }

// Port returns the configured port.
func (cfg *ServerConfig) Port() int { return cfg.port }

// Mode returns the serving mode.
func (cfg *ServerConfig) Mode() Mode { return cfg.mode }

// MaxClients returns the bound on open channels.
func (cfg *ServerConfig) MaxClients() int { return cfg.maxClients }

// MaxMessageSize returns the size of one client read.
func (cfg *ServerConfig) MaxMessageSize() int { return cfg.maxMessageSize }

// AcceptTimeout returns the accept and poll timeout.
func (cfg *ServerConfig) AcceptTimeout() time.Duration { return cfg.acceptTimeout }

// ServerOption configures a ServerConfig.
type ServerOption interface {
	apply(*ServerConfig) error
}

type serverOptFunc func(*ServerConfig) error

func (f serverOptFunc) apply(cfg *ServerConfig) error { return f(cfg) }

// WithMode sets the serving mode.
func WithMode(mode Mode) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if mode < Single || mode > Threaded {
			return fmt.Errorf("%w: %v", ErrInvalidMode, mode)
		}
		cfg.mode = mode

		return nil
	})
}

// WithMaxClients bounds concurrently open channels, in the range [1, 65535].
func WithMaxClients(n int) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if n < 1 || n > 65535 {
			return fmt.Errorf("max clients %d is out of range [1, 65535]", n)
		}
		cfg.maxClients = n

		return nil
	})
}

// WithMaxMessageSize sets the size of one client read, in the range [1, 16MiB].
func WithMaxMessageSize(size int) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if size < 1 || size > 16<<20 {
			return fmt.Errorf("max message size %d is out of range [1, %d]", size, 16<<20)
		}
		cfg.maxMessageSize = size

		return nil
	})
}

// WithReadTermination sets the sequence that ends a request.
func WithReadTermination(term string) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if term == "" {
			return errors.New("read termination is empty")
		}
		cfg.readTerm = term

		return nil
	})
}

// WithWriteTermination sets the sequence that ends a reply.
func WithWriteTermination(term string) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if term == "" {
			return errors.New("write termination is empty")
		}
		cfg.writeTerm = term

		return nil
	})
}

// WithAcceptTimeout sets the accept and poll timeout, in the range [1ms, 10s].
func WithAcceptTimeout(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d < time.Millisecond || d > 10*time.Second {
			return fmt.Errorf("accept timeout %s is out of range [1ms, 10s]", d)
		}
		cfg.acceptTimeout = d

		return nil
	})
}

// WithWriteTimeout bounds sending one reply, in the range [1ms, 1m].
func WithWriteTimeout(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d < time.Millisecond || d > time.Minute {
			return fmt.Errorf("write timeout %s is out of range [1ms, 1m]", d)
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithDisplayConnection logs client connects and disconnects at info level
// when enabled and at debug level otherwise.
func WithDisplayConnection(enabled bool) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.displayConnection = enabled
		return nil
	})
}

// WithForceClose closes every channel after its first processed request.
func WithForceClose(enabled bool) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.forceClose = enabled
		return nil
	})
}

// WithCloseTimeout bounds how long Close waits for channel goroutines, in the range [10ms, 1m].
func WithCloseTimeout(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d < 10*time.Millisecond || d > time.Minute {
			return fmt.Errorf("close timeout %s is out of range [10ms, 1m]", d)
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithLogger sets the logger. A nil logger keeps the default logger.
func WithLogger(l logger.Logger) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
