package socket

import (
	"fmt"
	"time"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/logger"
)

const (
	// DefaultTimeout bounds dialing, writing, and waiting for reply lines.
	DefaultTimeout = time.Second
	// DefaultBufferSize is the size of a single socket read.
	DefaultBufferSize = 4096

	flushTimeout = 10 * time.Millisecond
)

// Config holds the settings of a socket transport.
type Config struct {
	timeout    time.Duration
	bufferSize int
	readTerm   string
	writeTerm  string
	keepAlive  time.Duration
	flushProbe bool
	logger     logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		timeout:    DefaultTimeout,
		bufferSize: DefaultBufferSize,
		readTerm:   "\n",
		writeTerm:  "\n",
		keepAlive:  30 * time.Second,
		flushProbe: true,
		logger:     logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Option configures a socket transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithTimeout sets the dial, write and read timeout, in the range (0, 1h].
//
// Default is 1 second.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > time.Hour {
			return fmt.Errorf("%w: timeout %s is out of range (0, 1h]", device.ErrConfiguration, d)
		}
		cfg.timeout = d

		return nil
	})
}

// WithBufferSize sets the size of one socket read, in the range [1, 16MiB].
//
// Default is 4096.
func WithBufferSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > 16<<20 {
			return fmt.Errorf("%w: buffer size %d is out of range [1, %d]", device.ErrConfiguration, size, 16<<20)
		}
		cfg.bufferSize = size

		return nil
	})
}

// WithReadTermination sets the byte sequence that ends a reply line.
func WithReadTermination(term string) Option {
	return optFunc(func(cfg *Config) error {
		if term == "" {
			return fmt.Errorf("%w: read termination is empty", device.ErrConfiguration)
		}
		cfg.readTerm = term

		return nil
	})
}

// WithWriteTermination sets the byte sequence appended to every command. It may be empty.
func WithWriteTermination(term string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.writeTerm = term
		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. Zero uses the system default, negative disables it.
func WithKeepAlive(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.keepAlive = d
		return nil
	})
}

// WithFlushTermination controls whether Flush sends a bare write termination
// before draining. Disable it for peers that answer empty lines.
//
// Default is true.
func WithFlushTermination(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.flushProbe = enabled
		return nil
	})
}

// WithLogger sets the logger. A nil logger keeps the default logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
