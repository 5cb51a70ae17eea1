// Package mqttlink implements a device transport for instruments bridged onto
// an MQTT broker.
//
// Commands are published to a command topic. Replies arrive on a reply topic;
// one payload may carry several lines separated by the read termination.
package mqttlink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/internal/pool"
	"github.com/arloliu/go-labrpc/internal/queue"
	"github.com/arloliu/go-labrpc/logger"
)

// ErrBroker wraps failures reported by the broker or the MQTT client.
var ErrBroker = errors.New("mqtt broker error")

// Transport is an MQTT bridged link.
type Transport struct {
	cfg    *Config
	logger logger.Logger

	mu     sync.Mutex
	client pahomqtt.Client

	// filled by the paho router goroutine, drained by Read
	lines  queue.Queue[string]
	notify chan struct{}
}

var _ device.Transport = (*Transport)(nil)

// New creates a transport publishing on commandTopic and listening on replyTopic of broker,
// for example "tcp://localhost:1883".
func New(broker, commandTopic, replyTopic string, opts ...Option) (*Transport, error) {
	cfg, err := newConfig(broker, commandTopic, replyTopic, opts...)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:    cfg,
		logger: cfg.logger.With("transport", "mqtt", "broker", broker, "command_topic", commandTopic),
		lines:  queue.NewLockFreeQueue[string](),
		notify: make(chan struct{}, 1),
	}, nil
}

// Open connects to the broker and subscribes to the reply topic.
func (t *Transport) Open() error {
	return t.Reopen()
}

// Reopen disconnects if connected, then connects and subscribes again.
func (t *Transport) Reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()

	client := t.cfg.factory(t.cfg.clientOptions())
	if err := t.wait(client.Connect(), "connect"); err != nil {
		return err
	}

	if err := t.wait(client.Subscribe(t.cfg.replyTopic, t.cfg.qos, t.onReply), "subscribe"); err != nil {
		client.Disconnect(disconnectQuiesce)
		return err
	}

	t.client = client
	t.logger.Debug("connected to broker", "reply_topic", t.cfg.replyTopic, "method", "reopen")

	return nil
}

func (t *Transport) wait(token pahomqtt.Token, op string) error {
	if !token.WaitTimeout(t.cfg.timeout) {
		return fmt.Errorf("%w: %s: %w after %s", ErrBroker, op, device.ErrTimeout, t.cfg.timeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBroker, op, err)
	}

	return nil
}

func (t *Transport) onReply(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := string(msg.Payload())
	payload = strings.TrimSuffix(payload, t.cfg.readTerm)
	for _, line := range strings.Split(payload, t.cfg.readTerm) {
		t.lines.Enqueue(line)
	}

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// IsOpen reports whether the broker connection is up.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.client != nil && t.client.IsConnectionOpen()
}

// Close unsubscribes and disconnects.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()

	return nil
}

func (t *Transport) closeLocked() {
	t.drain()
	if t.client == nil {
		return
	}

	if t.client.IsConnectionOpen() {
		t.client.Unsubscribe(t.cfg.replyTopic).WaitTimeout(t.cfg.timeout)
	}
	t.client.Disconnect(disconnectQuiesce)
	t.client = nil
}

// Write publishes command on the command topic.
func (t *Transport) Write(command string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return device.ErrNotOpen
	}

	return t.wait(client.Publish(t.cfg.commandTopic, t.cfg.qos, false, command), "publish")
}

// Read waits up to the configured timeout for lines reply lines.
func (t *Transport) Read(lines int) ([]string, error) {
	t.mu.Lock()
	open := t.client != nil
	t.mu.Unlock()

	if !open {
		return nil, device.ErrNotOpen
	}

	result := make([]string, 0, lines)
	deadline := time.Now().Add(t.cfg.timeout)
	for len(result) < lines {
		if line, ok := t.lines.Dequeue(); ok {
			result = append(result, line)
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.requeue(result)
			return nil, fmt.Errorf("%w: received %d of %d lines on %s", device.ErrTimeout, len(result), lines, t.cfg.replyTopic)
		}

		timer := pool.GetTimer(remaining)
		select {
		case <-t.notify:
		case <-timer.C:
		}
		pool.PutTimer(timer)
	}

	return result, nil
}

// requeue puts partially read lines back in front of anything that arrived later.
func (t *Transport) requeue(partial []string) {
	if len(partial) == 0 {
		return
	}

	var later []string
	for {
		line, ok := t.lines.Dequeue()
		if !ok {
			break
		}
		later = append(later, line)
	}

	for _, line := range append(partial, later...) {
		t.lines.Enqueue(line)
	}
}

// Flush drops every reply line received so far.
func (t *Transport) Flush() error {
	t.drain()

	select {
	case <-t.notify:
	default:
	}

	return nil
}

// drain empties the line queue. Unlike Reset it may run while replies arrive.
func (t *Transport) drain() {
	for {
		if _, ok := t.lines.Dequeue(); !ok {
			return
		}
	}
}
