package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/logger"
)

const (
	// DefaultBaudRate is used when WithBaudRate is not given.
	DefaultBaudRate = 9600
	// DefaultTimeout bounds waiting for reply lines.
	DefaultTimeout = time.Second
)

// Config holds the settings of a serial transport.
type Config struct {
	mode      serial.Mode
	timeout   time.Duration
	readTerm  string
	writeTerm string
	bytesMode bool
	opener    Opener
	logger    logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		mode: serial.Mode{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		timeout:   DefaultTimeout,
		readTerm:  "\r\n",
		writeTerm: "\n",
		opener:    openSerial,
		logger:    logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Option configures a serial transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the line speed.
//
// Default is 9600.
func WithBaudRate(rate int) Option {
	return optFunc(func(cfg *Config) error {
		if rate <= 0 {
			return fmt.Errorf("%w: baud rate %d must be positive", device.ErrConfiguration, rate)
		}
		cfg.mode.BaudRate = rate

		return nil
	})
}

// WithDataBits sets the number of data bits, in the range [5, 8].
//
// Default is 8.
func WithDataBits(bits int) Option {
	return optFunc(func(cfg *Config) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("%w: data bits %d is out of range [5, 8]", device.ErrConfiguration, bits)
		}
		cfg.mode.DataBits = bits

		return nil
	})
}

// WithParity sets the parity mode: "none", "odd", "even", "mark" or "space".
//
// Default is "none".
func WithParity(parity string) Option {
	return optFunc(func(cfg *Config) error {
		switch parity {
		case "", "none", "N":
			cfg.mode.Parity = serial.NoParity
		case "odd", "O":
			cfg.mode.Parity = serial.OddParity
		case "even", "E":
			cfg.mode.Parity = serial.EvenParity
		case "mark", "M":
			cfg.mode.Parity = serial.MarkParity
		case "space", "S":
			cfg.mode.Parity = serial.SpaceParity
		default:
			return fmt.Errorf("%w: unknown parity %q", device.ErrConfiguration, parity)
		}

		return nil
	})
}

// WithStopBits sets the stop bits: 1, 1.5 or 2.
//
// Default is 1.
func WithStopBits(bits float64) Option {
	return optFunc(func(cfg *Config) error {
		switch bits {
		case 1:
			cfg.mode.StopBits = serial.OneStopBit
		case 1.5:
			cfg.mode.StopBits = serial.OnePointFiveStopBits
		case 2:
			cfg.mode.StopBits = serial.TwoStopBits
		default:
			return fmt.Errorf("%w: stop bits %v must be 1, 1.5 or 2", device.ErrConfiguration, bits)
		}

		return nil
	})
}

// WithTimeout sets how long Read waits for the requested lines, in the range (0, 1h].
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

// WithReadTermination sets the sequence that ends a reply line.
//
// Default is "\r\n".
func WithReadTermination(term string) Option {
	return optFunc(func(cfg *Config) error {
		if term == "" {
			return fmt.Errorf("%w: read termination is empty", device.ErrConfiguration)
		}
		cfg.readTerm = term

		return nil
	})
}

// WithWriteTermination sets the sequence appended to every command.
//
// Default is "\n".
func WithWriteTermination(term string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.writeTerm = term
		return nil
	})
}

// WithBytesMode makes the transport exchange raw bytes: commands are written
// without termination and Read(n) returns n single byte strings.
func WithBytesMode(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.bytesMode = enabled
		return nil
	})
}

// WithOpener replaces the function that opens the port.
func WithOpener(fn Opener) Option {
	return optFunc(func(cfg *Config) error {
		if fn == nil {
			return fmt.Errorf("%w: opener is nil", device.ErrConfiguration)
		}
		cfg.opener = fn

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
