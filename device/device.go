package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/go-labrpc/cmdqueue"
	"github.com/arloliu/go-labrpc/internal/opstate"
	"github.com/arloliu/go-labrpc/internal/pool"
	"github.com/arloliu/go-labrpc/logger"
)

// Device is a handle on one instrument.
type Device struct {
	pctx      context.Context
	cfg       *Config
	transport Transport
	logger    logger.Logger
	state     opstate.AtomicState

	mu     sync.RWMutex // protect ctx, cancel, queue and closing
	ctx    context.Context
	cancel context.CancelFunc
	queue  cmdqueue.Queue[[]string]
	// closing is closed once a transport close deferred past the close timeout ran.
	closing chan struct{}

	emptyMu    sync.RWMutex
	emptyReply []string

	errMu   sync.Mutex
	lastErr error

	metrics Metrics
}

// New creates a Device over transport and opens it.
//
// The transport is opened synchronously unless the device is in empty mode;
// a transport that cannot be opened yields *OpenError. Invalid policy options
// yield an error matching ErrConfiguration.
func New(ctx context.Context, transport Transport, opts ...Option) (*Device, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	if transport == nil && !cfg.empty {
		return nil, fmt.Errorf("%w: transport is nil", ErrConfiguration)
	}

	d := &Device{
		pctx:       ctx,
		cfg:        cfg,
		transport:  transport,
		logger:     cfg.logger.With("device", cfg.name),
		emptyReply: cfg.emptyReply,
	}

	if err := d.start(); err != nil {
		return nil, err
	}

	if !cfg.empty {
		if err := transport.Open(); err != nil || !transport.IsOpen() {
			d.stop()
			d.setLastError(err)

			return nil, &OpenError{Device: cfg.name, Err: err}
		}
	}

	d.state.Set(opstate.Opened)
	d.logger.Debug("device opened", "queue", cfg.useQueue, "empty", cfg.empty)

	return d, nil
}

func (d *Device) newQueue() (cmdqueue.Queue[[]string], error) {
	opts := []cmdqueue.Option{
		cmdqueue.WithName(d.cfg.name),
		cmdqueue.WithSize(d.cfg.queueSize),
		cmdqueue.WithLogger(d.logger),
	}
	if d.cfg.useQueue {
		return cmdqueue.New[[]string](opts...)
	}

	return cmdqueue.NewInline[[]string](opts...)
}

// start arms the lifetime context and the command queue.
func (d *Device) start() error {
	q, err := d.newQueue()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(d.pctx)
	d.queue = q
	d.mu.Unlock()

	return nil
}

// stop cancels pending sleeps, kills the queue and waits for it to drain.
// When the queue is still busy after the close timeout, it returns the
// channel that is closed once the consumer exits; otherwise it returns nil.
func (d *Device) stop() <-chan struct{} {
	d.mu.RLock()
	cancel, q := d.cancel, d.queue
	d.mu.RUnlock()

	cancel()
	q.Kill()

	ring, ok := q.(interface{ Done() <-chan struct{} })
	if !ok {
		return nil
	}

	timer := pool.GetTimer(d.cfg.closeTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ring.Done():
		return nil
	case <-timer.C:
		d.logger.Warn("queued commands did not drain before close", "timeout", d.cfg.closeTimeout)
		return ring.Done()
	}
}

// waitClosing blocks until a deferred transport close has run.
func (d *Device) waitClosing() {
	d.mu.RLock()
	closing := d.closing
	d.mu.RUnlock()

	if closing != nil {
		<-closing
	}
}

func (d *Device) lifetime() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.ctx
}

func (d *Device) getQueue() cmdqueue.Queue[[]string] {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.queue
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.cfg.name
}

// Config returns the policy of the device.
func (d *Device) Config() *Config {
	return d.cfg
}

// Metrics returns the counters of the device.
func (d *Device) Metrics() *Metrics {
	return &d.metrics
}

// QueueMetrics returns the counters of the command queue.
func (d *Device) QueueMetrics() *cmdqueue.Metrics {
	return d.getQueue().Metrics()
}

// QueueSize returns the number of commands waiting for or under execution.
func (d *Device) QueueSize() int {
	return d.getQueue().Size()
}

// IsOpen reports whether the device accepts commands and its transport is connected.
// A simulated device is open until it is closed.
func (d *Device) IsOpen() bool {
	if !d.state.IsOpened() {
		return false
	}
	if d.cfg.empty {
		return true
	}

	return d.transport.IsOpen()
}

// LastError returns the most recent transport or validation error, or nil.
func (d *Device) LastError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()

	return d.lastErr
}

func (d *Device) setLastError(err error) {
	if err == nil {
		return
	}

	d.errMu.Lock()
	d.lastErr = err
	d.errMu.Unlock()
}

// SetEmptyReturn replaces the canned reply of a simulated device.
// Without lines the canned reply becomes "0".
func (d *Device) SetEmptyReturn(lines ...string) {
	if len(lines) == 0 {
		lines = []string{"0"}
	}

	d.emptyMu.Lock()
	d.emptyReply = append([]string(nil), lines...)
	d.emptyMu.Unlock()
}

// cannedReply returns the empty mode reply truncated to n lines or padded
// with its last line.
func (d *Device) cannedReply(n int) []string {
	d.emptyMu.RLock()
	defer d.emptyMu.RUnlock()

	if n <= 0 {
		return []string{}
	}

	reply := make([]string, n)
	last := d.emptyReply[len(d.emptyReply)-1]
	for i := range reply {
		if i < len(d.emptyReply) {
			reply[i] = d.emptyReply[i]
		} else {
			reply[i] = last
		}
	}

	return reply
}

// SendCommand runs command through the retry policy and returns the reply lines.
//
// The command runs on the device queue unless WithoutQueue is given or the
// device was created with WithQueue(false). A closed device fails with ErrClosed.
func (d *Device) SendCommand(command string, opts ...CommandOption) ([]string, error) {
	co := newCommandOptions(opts)
	if co.returnLines < 0 {
		return nil, fmt.Errorf("%w: return lines %d must not be negative", ErrConfiguration, co.returnLines)
	}

	if !d.state.IsOpened() {
		return nil, fmt.Errorf("%s: %w", d.cfg.name, ErrClosed)
	}

	if co.bypassQueue {
		return d.execute(command, co)
	}

	lines, err := d.getQueue().Call(func() ([]string, error) {
		return d.execute(command, co)
	})
	if errors.Is(err, cmdqueue.ErrNotRunning) {
		return nil, fmt.Errorf("%s: %w", d.cfg.name, ErrClosed)
	}

	return lines, err
}

// Query sends command and returns its single reply line.
func (d *Device) Query(command string, opts ...CommandOption) (string, error) {
	opts = append(opts, WithReturnLines(1))

	lines, err := d.SendCommand(command, opts...)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}

	return lines[0], nil
}

// SendWithoutResponse writes command without reading a reply.
func (d *Device) SendWithoutResponse(command string, opts ...CommandOption) error {
	opts = append(opts, WithReturnLines(0))
	_, err := d.SendCommand(command, opts...)

	return err
}

// Reopen re-establishes the transport and, if the device was closed or its
// queue is no longer running, brings the device back into service.
func (d *Device) Reopen() error {
	reopen := func() ([]string, error) {
		if d.cfg.empty {
			return nil, nil
		}
		if err := d.transport.Reopen(); err != nil {
			d.setLastError(err)
			return nil, &OpenError{Device: d.cfg.name, Err: err}
		}

		return nil, nil
	}

	// a running queue owns the transport
	if q := d.getQueue(); d.state.IsOpened() && q.IsAlive() {
		_, err := q.Call(reopen)
		return err
	}

	d.waitClosing()
	if _, err := reopen(); err != nil {
		return err
	}
	if err := d.start(); err != nil {
		return err
	}
	d.state.Set(opstate.Opened)
	d.logger.Info("device reopened")

	return nil
}

// Close kills the command queue, waits for queued commands to drain and
// closes the transport. Calling Close more than once has no effect.
//
// The queue consumer owns the transport until it exits. If queued commands
// are still running after the close timeout, Close returns and the transport
// is closed as soon as the consumer finishes. Commands sent WithoutQueue are
// not waited for.
func (d *Device) Close() error {
	if !d.state.ToClosing() {
		return nil
	}
	defer d.state.ToClosed()

	busy := d.stop()

	if d.cfg.empty {
		return nil
	}

	if busy == nil {
		return d.closeTransport()
	}

	closing := make(chan struct{})
	d.mu.Lock()
	d.closing = closing
	d.mu.Unlock()

	go func() {
		defer close(closing)
		<-busy
		_ = d.closeTransport()
	}()

	return nil
}

func (d *Device) closeTransport() error {
	err := d.transport.Close()
	if err != nil {
		d.setLastError(err)
	}
	d.logger.Debug("device closed", "error", err)

	return err
}
