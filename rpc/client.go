package rpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/proto"
	"github.com/arloliu/go-labrpc/transport/socket"
)

// FieldValidator checks the payload fields of a successful reply.
type FieldValidator func(command string, fields []string) error

// ClientValidator accepts exactly one reply line with status "1" and, when
// base is not nil, payload fields accepted by base.
func ClientValidator(base FieldValidator) device.Validator {
	return func(command string, lines []string) error {
		switch {
		case len(lines) > 1:
			return errTooManyReplies
		case len(lines) == 0:
			return errNoReply
		}

		reply, err := proto.Decode(lines[0])
		if err != nil {
			return err
		}
		if err := reply.Err(); err != nil {
			return err
		}

		if base != nil {
			return base(command, reply.Fields())
		}

		return nil
	}
}

type clientConfig struct {
	deviceOpts []device.Option
	socketOpts []socket.Option
	validator  FieldValidator
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithDeviceOptions passes options to the underlying device. They are applied
// after the client defaults.
func WithDeviceOptions(opts ...device.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.deviceOpts = append(cfg.deviceOpts, opts...)
	}
}

// WithSocketOptions passes options to the socket transport.
func WithSocketOptions(opts ...socket.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.socketOpts = append(cfg.socketOpts, opts...)
	}
}

// WithFieldValidator sets a check every successful reply must pass.
func WithFieldValidator(v FieldValidator) ClientOption {
	return func(cfg *clientConfig) {
		cfg.validator = v
	}
}

// Client talks to a Server.
type Client struct {
	dev       *device.Device
	transport *socket.Transport
	validator device.Validator
}

// NewClient connects to the server at host:port.
//
// A failure reply counts as a failed attempt and is retried like any invalid
// response. The client defaults to 3 attempts 50ms apart and 3 reconnect
// tries 100ms apart; WithDeviceOptions overrides them.
func NewClient(ctx context.Context, host string, port int, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// the server answers an empty line, so a flush must not send one
	sockOpts := append([]socket.Option{socket.WithFlushTermination(false)}, cfg.socketOpts...)
	tr, err := socket.New(host, port, sockOpts...)
	if err != nil {
		return nil, err
	}

	devOpts := append([]device.Option{
		device.WithName("Socket Client"),
		device.WithMaxAttempts(3),
		device.WithAttemptDelay(50 * time.Millisecond),
		device.WithReconnectTries(3),
		device.WithReconnectDelay(100 * time.Millisecond),
	}, cfg.deviceOpts...)

	dev, err := device.New(ctx, tr, devOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		dev:       dev,
		transport: tr,
		validator: ClientValidator(cfg.validator),
	}, nil
}

// Device returns the underlying device.
func (c *Client) Device() *device.Device { return c.dev }

// Send sends one request and returns the payload fields of the success reply.
func (c *Client) Send(command string) ([]string, error) {
	lines, err := c.dev.SendCommand(command,
		device.WithReturnLines(1),
		device.WithValidator(c.validator),
	)
	if err != nil {
		return nil, err
	}

	return proto.Payload(lines[0]), nil
}

func (c *Client) sendOne(command string) (string, error) {
	fields, err := c.Send(command)
	if err != nil {
		return "", err
	}

	return strings.Join(fields, proto.Separator), nil
}

// Set sends "path=value" and returns the reply payload.
func (c *Client) Set(path string, value any) (string, error) {
	return c.sendOne(fmt.Sprintf("%s=%v", path, value))
}

// Get sends "path?" and returns the reply payload.
func (c *Client) Get(path string) (string, error) {
	return c.sendOne(path + "?")
}

// Toggle sends path without an operation symbol and returns the reply payload.
func (c *Client) Toggle(path string) (string, error) {
	return c.sendOne(path)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.dev.Close()
}
