package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/logger"
)

type pollResult struct {
	value string
	err   error
	at    time.Time
}

// poller sends a fixed list of queries to a device and caches the replies.
type poller struct {
	dev      *device.Device
	commands []string
	interval time.Duration
	logger   logger.Logger
	results  *xsync.MapOf[int, pollResult]
}

func newPoller(dev *device.Device, commands []string, interval time.Duration, l logger.Logger) *poller {
	return &poller{
		dev:      dev,
		commands: append([]string(nil), commands...),
		interval: interval,
		logger:   l.With("poller", dev.Name()),
		results:  xsync.NewMapOf[int, pollResult](),
	}
}

// taskName is the interval task name of the poller.
func (p *poller) taskName() string {
	return "poll-" + p.dev.Name()
}

// run queries every command once. It keeps polling until ctx is done.
func (p *poller) run(ctx context.Context) bool {
	for i, cmd := range p.commands {
		if ctx.Err() != nil {
			return false
		}

		reply, err := p.dev.Query(cmd)
		if err != nil {
			p.logger.Warn("poll failed", "command", cmd, "error", err)
		}
		p.results.Store(i, pollResult{value: reply, err: err, at: time.Now()})
	}

	return true
}

// value returns the cached reply of the i-th command.
func (p *poller) value(i int) (string, error) {
	if i < 0 || i >= len(p.commands) {
		return "", fmt.Errorf("poll index %d is out of range [0, %d]", i, len(p.commands)-1)
	}

	res, ok := p.results.Load(i)
	if !ok {
		return "", fmt.Errorf("no reply polled yet for %q", p.commands[i])
	}
	if res.err != nil {
		return "", fmt.Errorf("last poll of %q at %s failed: %w", p.commands[i], res.at.Format(time.RFC3339), res.err)
	}

	return res.value, nil
}
