package mqttlink

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/logger"
)

const (
	// DefaultTimeout bounds connecting, publishing and waiting for reply lines.
	DefaultTimeout = 5 * time.Second

	disconnectQuiesce = 250 // milliseconds
	maxQoS            = 2
)

// ClientFactory creates the paho client from the assembled options.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Config holds the settings of an MQTT bridge transport.
type Config struct {
	broker       string
	clientID     string
	username     string
	password     string
	commandTopic string
	replyTopic   string
	qos          byte
	timeout      time.Duration
	readTerm     string
	factory      ClientFactory
	logger       logger.Logger
}

func newConfig(broker, commandTopic, replyTopic string, opts ...Option) (*Config, error) {
	if broker == "" {
		return nil, fmt.Errorf("%w: broker URL is empty", device.ErrConfiguration)
	}
	if commandTopic == "" || replyTopic == "" {
		return nil, fmt.Errorf("%w: command and reply topics are required", device.ErrConfiguration)
	}

	cfg := &Config{
		broker:       broker,
		clientID:     "labrpc-" + uuid.NewString()[:8],
		commandTopic: commandTopic,
		replyTopic:   replyTopic,
		qos:          1,
		timeout:      DefaultTimeout,
		readTerm:     "\n",
		factory:      pahomqtt.NewClient,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *Config) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.broker)
	opts.SetClientID(cfg.clientID)
	if cfg.username != "" {
		opts.SetUsername(cfg.username)
		opts.SetPassword(cfg.password)
	}
	opts.SetCleanSession(true)
	// the device owns reconnection
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(cfg.timeout)
	opts.SetOrderMatters(true)

	return opts
}

// Option configures an MQTT bridge transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithClientID sets the MQTT client id. Default is "labrpc-" followed by a random suffix.
func WithClientID(id string) Option {
	return optFunc(func(cfg *Config) error {
		if id == "" {
			return fmt.Errorf("%w: client id is empty", device.ErrConfiguration)
		}
		cfg.clientID = id

		return nil
	})
}

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.username = username
		cfg.password = password

		return nil
	})
}

// WithQoS sets the quality of service used to publish and subscribe, in the range [0, 2].
//
// Default is 1.
func WithQoS(qos int) Option {
	return optFunc(func(cfg *Config) error {
		if qos < 0 || qos > maxQoS {
			return fmt.Errorf("%w: qos %d is out of range [0, %d]", device.ErrConfiguration, qos, maxQoS)
		}
		cfg.qos = byte(qos)

		return nil
	})
}

// WithTimeout sets the connect, publish and read timeout, in the range (0, 1h].
//
// Default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > time.Hour {
			return fmt.Errorf("%w: timeout %s is out of range (0, 1h]", device.ErrConfiguration, d)
		}
		cfg.timeout = d

		return nil
	})
}

// WithReadTermination sets the separator of lines inside one reply payload.
//
// Default is "\n".
func WithReadTermination(term string) Option {
	return optFunc(func(cfg *Config) error {
		if term == "" {
			return fmt.Errorf("%w: read termination is empty", device.ErrConfiguration)
		}
		cfg.readTerm = term

		return nil
	})
}

// WithClientFactory replaces pahomqtt.NewClient.
func WithClientFactory(fn ClientFactory) Option {
	return optFunc(func(cfg *Config) error {
		if fn == nil {
			return fmt.Errorf("%w: client factory is nil", device.ErrConfiguration)
		}
		cfg.factory = fn

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
