package device

import (
	"fmt"
	"time"

	"github.com/arloliu/go-labrpc/cmdqueue"
	"github.com/arloliu/go-labrpc/logger"
)

// Config holds the policy of a Device.
type Config struct {
	// name identifies the device in errors and log records.
	name string

	// reconnectTries is the number of reopen attempts made when a command finds
	// the transport closed. Zero disables reconnection.
	// Defaults to 100.
	reconnectTries int
	// reconnectDelay is the pause between reopen attempts.
	// Defaults to 1 second.
	reconnectDelay time.Duration

	// maxAttempts is the number of write/read attempts per command, at least 1.
	// Defaults to 100.
	maxAttempts int
	// attemptDelay is the pause after a failed attempt.
	// Defaults to 1 second.
	attemptDelay time.Duration

	// useQueue routes commands through a cmdqueue.Ring. When false commands
	// run in the caller's goroutine through cmdqueue.Inline.
	// Defaults to true.
	useQueue bool
	// queueSize is the number of slots of the command ring.
	// Defaults to cmdqueue.DefaultSize.
	queueSize int

	// forceClose reopens the transport before every command and closes it afterwards.
	forceClose bool

	// empty disables all transport I/O; commands return emptyReply.
	empty      bool
	emptyReply []string

	// closeTimeout bounds how long Close waits for queued commands to drain.
	// Defaults to 5 seconds.
	closeTimeout time.Duration

	logger logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		name:           "Device",
		reconnectTries: 100,
		reconnectDelay: time.Second,
		maxAttempts:    100,
		attemptDelay:   time.Second,
		useQueue:       true,
		queueSize:      cmdqueue.DefaultSize,
		emptyReply:     []string{"0"},
		closeTimeout:   5 * time.Second,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Name returns the device name.
func (cfg *Config) Name() string { return cfg.name }

// ReconnectTries returns the number of reopen attempts per command.
func (cfg *Config) ReconnectTries() int { return cfg.reconnectTries }

// ReconnectDelay returns the pause between reopen attempts.
func (cfg *Config) ReconnectDelay() time.Duration { return cfg.reconnectDelay }

// MaxAttempts returns the number of attempts per command.
func (cfg *Config) MaxAttempts() int { return cfg.maxAttempts }

// AttemptDelay returns the pause after a failed attempt.
func (cfg *Config) AttemptDelay() time.Duration { return cfg.attemptDelay }

// UseQueue reports whether commands run on a dedicated consumer goroutine.
func (cfg *Config) UseQueue() bool { return cfg.useQueue }

// ForceClose reports whether the transport is reopened and closed around every command.
func (cfg *Config) ForceClose() bool { return cfg.forceClose }

// Empty reports whether the device is simulated.
func (cfg *Config) Empty() bool { return cfg.empty }

// Option represents a functional option for configuring a Device.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithName sets the device name used in errors and logs.
//
// Default is "Device".
func WithName(name string) Option {
	return optFunc(func(cfg *Config) error {
		if name == "" {
			return fmt.Errorf("%w: device name is empty", ErrConfiguration)
		}
		cfg.name = name

		return nil
	})
}

// WithID appends an identifier to the device name, e.g. "Laser 2".
// It must come after WithName.
func WithID(id string) Option {
	return optFunc(func(cfg *Config) error {
		if id != "" {
			cfg.name = cfg.name + " " + id
		}

		return nil
	})
}

// WithReconnectTries sets how many times a closed transport is reopened
// before a command fails with *OpenError. It must not be negative.
//
// Default is 100.
func WithReconnectTries(tries int) Option {
	return optFunc(func(cfg *Config) error {
		if tries < 0 {
			return &ConfigError{Field: "ReconnectTries", Value: tries, Min: 0}
		}
		cfg.reconnectTries = tries

		return nil
	})
}

// WithReconnectDelay sets the pause between reopen attempts. It must not be negative.
//
// Default is 1 second.
func WithReconnectDelay(delay time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if delay < 0 {
			return &ConfigError{Field: "ReconnectDelay", Value: delay, Min: time.Duration(0)}
		}
		cfg.reconnectDelay = delay

		return nil
	})
}

// WithMaxAttempts sets the number of write/read attempts per command. It must be at least 1.
//
// Default is 100.
func WithMaxAttempts(attempts int) Option {
	return optFunc(func(cfg *Config) error {
		if attempts < 1 {
			return &ConfigError{Field: "MaxAttempts", Value: attempts, Min: 1}
		}
		cfg.maxAttempts = attempts

		return nil
	})
}

// WithAttemptDelay sets the pause after a failed attempt. It must not be negative.
//
// Default is 1 second.
func WithAttemptDelay(delay time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if delay < 0 {
			return &ConfigError{Field: "AttemptDelay", Value: delay, Min: time.Duration(0)}
		}
		cfg.attemptDelay = delay

		return nil
	})
}

// WithQueue enables or disables the command queue.
//
// Default is enabled.
func WithQueue(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.useQueue = enabled
		return nil
	})
}

// WithQueueSize sets the number of slots of the command queue. It must be at least 1.
//
// Default is 1000.
func WithQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 {
			return &ConfigError{Field: "QueueSize", Value: size, Min: 1}
		}
		cfg.queueSize = size

		return nil
	})
}

// WithForceClose reopens the transport before every command and closes it afterwards.
func WithForceClose(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.forceClose = enabled
		return nil
	})
}

// WithEmpty puts the device in simulated mode: no transport I/O happens and
// commands return reply, padded with its last line or truncated to the
// requested number of lines. Without reply lines the canned reply is "0".
func WithEmpty(reply ...string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.empty = true
		if len(reply) > 0 {
			cfg.emptyReply = append([]string(nil), reply...)
		}

		return nil
	})
}

// WithCloseTimeout bounds how long Close waits for queued commands.
//
// Default is 5 seconds.
func WithCloseTimeout(timeout time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if timeout < 0 {
			return &ConfigError{Field: "CloseTimeout", Value: timeout, Min: time.Duration(0)}
		}
		cfg.closeTimeout = timeout

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
