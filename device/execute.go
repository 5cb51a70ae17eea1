package device

import (
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/arloliu/go-labrpc/internal/pool"
)

var errStillClosed = errors.New("transport reported closed after reopen")

// execute runs one command under the retry policy. With a queue it runs on
// the consumer goroutine, so it is the only code touching the transport.
func (d *Device) execute(command string, co *commandOptions) (lines []string, err error) {
	d.metrics.incCommand()
	defer func() {
		if err != nil {
			d.metrics.incFailed()
		}
	}()

	if d.cfg.empty {
		return d.cannedReply(co.returnLines), nil
	}

	if d.cfg.forceClose {
		if rerr := d.transport.Reopen(); rerr != nil {
			d.setLastError(rerr)
			d.logger.Warn("unable to reopen before command", "command", command, "error", rerr)
		}
		defer func() {
			if cerr := d.transport.Close(); cerr != nil {
				d.logger.Warn("unable to close after command", "command", command, "error", cerr)
			}
		}()
	}

	if !d.transport.IsOpen() {
		if err := d.reconnect(); err != nil {
			return nil, err
		}
	}

	ctx := d.lifetime()
	var lastErr error
	for attempt := 1; attempt <= d.cfg.maxAttempts; attempt++ {
		if attempt > 1 {
			d.metrics.incRetry()
			if pool.Sleep(ctx, d.cfg.attemptDelay) != nil {
				break
			}
		}

		if err := d.transport.Write(command); err != nil {
			lastErr = err
			d.setLastError(err)
			d.logger.Warn("unable to write, trying again", "command", command, "attempt", attempt, "error", err)

			continue
		}

		if co.returnLines == 0 {
			return []string{}, nil
		}

		if co.waitTime > 0 && pool.Sleep(ctx, co.waitTime) != nil {
			lastErr = ctx.Err()
			break
		}

		reply, err := d.transport.Read(co.returnLines)
		if err != nil {
			lastErr = err
			d.setLastError(err)
			d.logger.Warn("unable to read, trying again", "command", command, "attempt", attempt, "error", err)

			continue
		}

		if co.validator != nil {
			if verr := co.validator(command, reply); verr != nil {
				lastErr = verr
				d.setLastError(verr)
				d.logger.Warn("invalid response", "command", command, "attempt", attempt, "reply", reply, "error", verr)

				if ferr := d.transport.Flush(); ferr != nil {
					d.logger.Warn("unable to flush", "error", ferr)
				}

				continue
			}
		}

		return reply, nil
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}

	return nil, &CommunicationError{
		Device:  d.cfg.name,
		Command: command,
		Message: errMessage(lastErr),
		Err:     lastErr,
	}
}

// reconnect reopens the transport up to ReconnectTries times, ReconnectDelay apart.
func (d *Device) reconnect() error {
	tries := d.cfg.reconnectTries
	if tries == 0 {
		return &OpenError{Device: d.cfg.name, Err: d.LastError()}
	}

	d.logger.Warn("device is disconnected, attempting to reconnect", "tries", tries)

	var lastErr error
	op := func() error {
		d.metrics.incReconnect()
		if err := d.transport.Reopen(); err != nil {
			lastErr = err
			d.setLastError(err)

			return err
		}
		if !d.transport.IsOpen() {
			lastErr = errStillClosed
			return lastErr
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.reconnectDelay), uint64(tries-1)),
		d.lifetime(),
	)
	if err := backoff.Retry(op, policy); err != nil {
		if lastErr == nil {
			lastErr = err
		}

		return &OpenError{Device: d.cfg.name, Err: lastErr}
	}

	d.logger.Info("reconnected")

	return nil
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}

	return err.Error()
}
