package daemon

import (
	"context"
	"fmt"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/internal/config"
	"github.com/arloliu/go-labrpc/transport/mqttlink"
	"github.com/arloliu/go-labrpc/transport/serialport"
	"github.com/arloliu/go-labrpc/transport/socket"
)

// newTransport builds the transport of a configured device. Empty devices have none.
func (d *Daemon) newTransport(dc *config.DeviceConfig) (device.Transport, error) {
	switch dc.Type {
	case config.TypeSocket:
		sc := dc.Socket
		opts := []socket.Option{socket.WithLogger(d.logger)}
		if sc.Timeout > 0 {
			opts = append(opts, socket.WithTimeout(sc.Timeout))
		}
		if sc.ReadTermination != "" {
			opts = append(opts, socket.WithReadTermination(sc.ReadTermination))
		}
		if sc.WriteTermination != "" {
			opts = append(opts, socket.WithWriteTermination(sc.WriteTermination))
		}

		return socket.New(sc.Host, sc.Port, opts...)

	case config.TypeSerial:
		sc := dc.Serial
		opts := []serialport.Option{serialport.WithLogger(d.logger)}
		if sc.BaudRate > 0 {
			opts = append(opts, serialport.WithBaudRate(sc.BaudRate))
		}
		if sc.DataBits > 0 {
			opts = append(opts, serialport.WithDataBits(sc.DataBits))
		}
		if sc.Parity != "" {
			opts = append(opts, serialport.WithParity(sc.Parity))
		}
		if sc.StopBits > 0 {
			opts = append(opts, serialport.WithStopBits(sc.StopBits))
		}
		if sc.Timeout > 0 {
			opts = append(opts, serialport.WithTimeout(sc.Timeout))
		}
		if sc.ReadTermination != "" {
			opts = append(opts, serialport.WithReadTermination(sc.ReadTermination))
		}
		if sc.WriteTermination != "" {
			opts = append(opts, serialport.WithWriteTermination(sc.WriteTermination))
		}
		opts = append(opts, serialport.WithBytesMode(sc.BytesMode))
		opts = append(opts, d.serialOpts...)

		return serialport.New(sc.Port, opts...)

	case config.TypeMQTT:
		mc := dc.MQTT
		opts := []mqttlink.Option{
			mqttlink.WithLogger(d.logger),
			mqttlink.WithQoS(mc.QoS),
		}
		if mc.ClientID != "" {
			opts = append(opts, mqttlink.WithClientID(mc.ClientID))
		}
		if mc.Username != "" {
			opts = append(opts, mqttlink.WithCredentials(mc.Username, mc.Password))
		}
		if mc.Timeout > 0 {
			opts = append(opts, mqttlink.WithTimeout(mc.Timeout))
		}
		opts = append(opts, d.mqttOpts...)

		return mqttlink.New(mc.Broker, mc.CommandTopic, mc.ReplyTopic, opts...)

	case config.TypeEmpty:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown device type %q", device.ErrConfiguration, dc.Type)
	}
}

// deviceOptions maps the policy section onto device options. Zero values keep the device defaults.
func (d *Daemon) deviceOptions(dc *config.DeviceConfig) []device.Option {
	p := dc.Policy
	opts := []device.Option{
		device.WithName(dc.Name),
		device.WithLogger(d.logger),
		device.WithForceClose(p.ForceClose),
	}

	if p.ReconnectTries != nil {
		opts = append(opts, device.WithReconnectTries(*p.ReconnectTries))
	}
	if p.ReconnectDelay > 0 {
		opts = append(opts, device.WithReconnectDelay(p.ReconnectDelay))
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, device.WithMaxAttempts(p.MaxAttempts))
	}
	if p.AttemptDelay > 0 {
		opts = append(opts, device.WithAttemptDelay(p.AttemptDelay))
	}
	if p.Queue != nil {
		opts = append(opts, device.WithQueue(*p.Queue))
	}
	if p.QueueSize > 0 {
		opts = append(opts, device.WithQueueSize(p.QueueSize))
	}
	if dc.Type == config.TypeEmpty {
		var reply []string
		if dc.Empty != nil {
			reply = dc.Empty.Reply
		}
		opts = append(opts, device.WithEmpty(reply...))
	}

	return opts
}

// openDevice builds and opens one configured device.
func (d *Daemon) openDevice(ctx context.Context, dc *config.DeviceConfig) (*device.Device, error) {
	t, err := d.newTransport(dc)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dc.Name, err)
	}

	dev, err := device.New(ctx, t, d.deviceOptions(dc)...)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dc.Name, err)
	}

	return dev, nil
}
