// Package daemon composes configured devices, the parameter tree and the RPC
// server into the labrpcd service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/internal/config"
	"github.com/arloliu/go-labrpc/internal/opstate"
	"github.com/arloliu/go-labrpc/internal/task"
	"github.com/arloliu/go-labrpc/logger"
	"github.com/arloliu/go-labrpc/param"
	"github.com/arloliu/go-labrpc/promexport"
	"github.com/arloliu/go-labrpc/rpc"
	"github.com/arloliu/go-labrpc/transport/mqttlink"
	"github.com/arloliu/go-labrpc/transport/serialport"
)

// ServerName labels the RPC server metrics.
const ServerName = "labrpcd"

const shutdownTimeout = 3 * time.Second

var (
	// ErrDuplicateDevice is returned when two devices share a name.
	ErrDuplicateDevice = errors.New("duplicate device name")
	// ErrReservedName is returned for a device named like a daemon parameter.
	ErrReservedName = errors.New("device name is reserved")
	// ErrAlreadyStarted is returned by Start on a running daemon.
	ErrAlreadyStarted = errors.New("daemon is already started")
	// ErrClosed is returned by Start on a closed daemon.
	ErrClosed = errors.New("daemon is closed")
)

// Option configures a Daemon.
type Option interface {
	apply(*Daemon) error
}

type optFunc func(*Daemon) error

func (f optFunc) apply(d *Daemon) error { return f(d) }

// WithLogger sets the logger. A nil logger keeps the default logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(d *Daemon) error {
		if l != nil {
			d.logger = l
		}

		return nil
	})
}

// WithDevice adds a device built by the caller, for example over a
// function table transport. The daemon closes it on Close.
func WithDevice(dev *device.Device) Option {
	return optFunc(func(d *Daemon) error {
		if dev == nil {
			return fmt.Errorf("%w: device is nil", device.ErrConfiguration)
		}
		d.extra = append(d.extra, dev)

		return nil
	})
}

// WithSerialOptions appends options to every serial transport.
func WithSerialOptions(opts ...serialport.Option) Option {
	return optFunc(func(d *Daemon) error {
		d.serialOpts = append(d.serialOpts, opts...)
		return nil
	})
}

// WithMQTTOptions appends options to every MQTT transport.
func WithMQTTOptions(opts ...mqttlink.Option) Option {
	return optFunc(func(d *Daemon) error {
		d.mqttOpts = append(d.mqttOpts, opts...)
		return nil
	})
}

// Daemon serves a set of devices over the RPC protocol.
type Daemon struct {
	cfg    *config.Config
	logger logger.Logger

	serialOpts []serialport.Option
	mqttOpts   []mqttlink.Option
	extra      []*device.Device

	devices []*device.Device
	pollers map[string]*poller
	root    *param.Node

	server   *rpc.Server
	registry *promexport.Registry
	metrics  *promexport.Server

	opState opstate.AtomicState
	closed  atomic.Bool
	taskMgr *task.Manager
}

// New opens every configured device and prepares the server. Nothing listens
// until Start is called. Devices opened before a failure are closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon config is nil")
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger.GetLogger(),
		pollers: make(map[string]*poller),
	}
	for _, opt := range opts {
		if err := opt.apply(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With("component", "daemon")
	d.taskMgr = task.NewManager(ctx, d.logger)

	if err := d.openDevices(ctx); err != nil {
		d.closeDevices()
		return nil, err
	}

	if err := d.setup(ctx); err != nil {
		d.closeDevices()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) openDevices(ctx context.Context) error {
	seen := make(map[string]struct{})
	add := func(dev *device.Device) error {
		key := param.Key(dev.Name())
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, dev.Name())
		}
		seen[key] = struct{}{}
		d.devices = append(d.devices, dev)

		return nil
	}

	for i := range d.cfg.Devices {
		dc := &d.cfg.Devices[i]

		dev, err := d.openDevice(ctx, dc)
		if err != nil {
			return err
		}
		if err := add(dev); err != nil {
			_ = dev.Close()
			return err
		}
		if len(dc.Poll.Commands) > 0 {
			d.pollers[dev.Name()] = newPoller(dev, dc.Poll.Commands, dc.Poll.Interval, d.logger)
		}
		d.logger.Info("device ready", "name", dc.Name, "type", dc.Type)
	}

	for _, dev := range d.extra {
		if err := add(dev); err != nil {
			return err
		}
	}

	return nil
}

func (d *Daemon) setup(ctx context.Context) error {
	root, err := d.buildTree()
	if err != nil {
		return err
	}
	d.root = root

	sc := d.cfg.Server
	scfg, err := rpc.NewServerConfig(sc.Host, sc.Port,
		rpc.WithMode(d.cfg.RPCMode()),
		rpc.WithMaxClients(sc.MaxClients),
		rpc.WithMaxMessageSize(sc.MaxMessageSize),
		rpc.WithReadTermination(sc.ReadTermination),
		rpc.WithWriteTermination(sc.WriteTermination),
		rpc.WithAcceptTimeout(sc.AcceptTimeout),
		rpc.WithWriteTimeout(sc.WriteTimeout),
		rpc.WithDisplayConnection(sc.DisplayConnection),
		rpc.WithForceClose(sc.ForceClose),
		rpc.WithLogger(d.logger),
	)
	if err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	d.server, err = rpc.NewServer(ctx, d.root, scfg)
	if err != nil {
		return err
	}

	d.registry = promexport.NewRegistry()
	for _, dev := range d.devices {
		if err := d.registry.RegisterDevice(dev); err != nil {
			return err
		}
	}

	return d.registry.RegisterServer(ServerName, d.server)
}

// Root returns the parameter tree served to clients.
func (d *Daemon) Root() *param.Node { return d.root }

// Server returns the RPC server.
func (d *Daemon) Server() *rpc.Server { return d.server }

// Registry returns the metrics registry.
func (d *Daemon) Registry() *promexport.Registry { return d.registry }

// Devices returns the served devices in configuration order.
func (d *Daemon) Devices() []*device.Device {
	return append([]*device.Device(nil), d.devices...)
}

// Device returns the device with the given name, ignoring case and spaces.
func (d *Daemon) Device(name string) (*device.Device, bool) {
	key := param.Key(name)
	for _, dev := range d.devices {
		if param.Key(dev.Name()) == key {
			return dev, true
		}
	}

	return nil, false
}

func (d *Daemon) deviceNames() []string {
	names := make([]string, len(d.devices))
	for i, dev := range d.devices {
		names[i] = dev.Name()
	}

	return names
}

// Start opens the RPC server, the metrics endpoint when enabled, and the pollers.
func (d *Daemon) Start() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.opState.ToOpening() {
		return ErrAlreadyStarted
	}

	if err := d.server.Open(); err != nil {
		d.opState.Set(opstate.Closed)
		return err
	}

	if d.cfg.Metrics.Enabled {
		d.metrics = promexport.NewServer(d.registry, d.cfg.Metrics.Path)
		if err := d.metrics.Start(d.cfg.Metrics.Address); err != nil {
			_ = d.server.Close()
			d.opState.Set(opstate.Closed)

			return fmt.Errorf("metrics: %w", err)
		}
		d.logger.Info("metrics endpoint listening", "address", d.metrics.Addr().String(), "path", d.cfg.Metrics.Path)
	}

	for _, p := range d.pollers {
		if err := d.taskMgr.StartInterval(p.taskName(), p.run, p.interval, false); err != nil {
			d.logger.Error("failed to start poller", "device", p.dev.Name(), "error", err)
		}
	}

	d.opState.ToOpened()
	host, port := d.server.IP()
	d.logger.Info("daemon started", "host", host, "port", port, "devices", len(d.devices))

	return nil
}

// MetricsAddr returns the metrics listen address, or "" when metrics are disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metrics == nil || d.metrics.Addr() == nil {
		return ""
	}

	return d.metrics.Addr().String()
}

// Close stops the pollers, the servers and every device. A daemon that was
// never started still closes its devices. Calling Close more than once has no effect.
func (d *Daemon) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.opState.Set(opstate.Closing)
	defer d.opState.Set(opstate.Closed)

	var errs []error

	d.taskMgr.Stop()
	if !d.taskMgr.WaitTimeout(shutdownTimeout) {
		d.logger.Warn("pollers did not stop in time", "timeout", shutdownTimeout)
	}

	if err := d.server.Close(); err != nil {
		errs = append(errs, err)
	}

	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.metrics.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
		cancel()
	}

	errs = append(errs, d.closeDevices()...)
	d.logger.Info("daemon stopped")

	return errors.Join(errs...)
}

func (d *Daemon) closeDevices() []error {
	var errs []error
	for _, dev := range d.devices {
		if err := dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", dev.Name(), err))
		}
	}

	return errs
}
