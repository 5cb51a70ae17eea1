package cmdqueue

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-labrpc/logger"
)

const (
	// DefaultSize is the number of slots in a ring when WithSize is not given.
	DefaultSize = 1000

	maxSize = 1 << 20
)

// Config holds the settings of a queue.
type Config struct {
	name   string
	size   int
	logger logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		name:   "queue",
		size:   DefaultSize,
		logger: logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Option configures a queue.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithSize sets the number of slots in the ring, in the range [1, 1048576].
//
// Default is 1000.
func WithSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > maxSize {
			return fmt.Errorf("queue size %d is out of range [1, %d]", size, maxSize)
		}
		cfg.size = size

		return nil
	})
}

// WithName sets the name used in log records.
func WithName(name string) Option {
	return optFunc(func(cfg *Config) error {
		if name == "" {
			return errors.New("queue name is empty")
		}
		cfg.name = name

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
