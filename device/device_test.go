package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-labrpc/cmdqueue"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, tr Transport, opts ...Option) *Device {
	t.Helper()

	opts = append(fastPolicy(), opts...)
	dev, err := New(context.Background(), tr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func TestNew(t *testing.T) {
	t.Run("opens transport", func(t *testing.T) {
		require := require.New(t)
		tr := newFakeTransport()

		dev := newTestDevice(t, tr, WithName("Laser"), WithID("2"))
		require.Equal("Laser 2", dev.Name())
		require.True(dev.IsOpen())
		require.EqualValues(1, tr.opens.Load())
	})

	t.Run("open failure", func(t *testing.T) {
		require := require.New(t)
		tr := newFakeTransport()
		tr.openErr = errors.New("no such port")

		_, err := New(context.Background(), tr, WithName("Stage"))
		require.ErrorIs(err, ErrOpen)

		var openErr *OpenError
		require.ErrorAs(err, &openErr)
		require.Equal("Stage", openErr.Device)
		require.Equal("unable to open Stage: no such port", err.Error())
	})

	t.Run("nil transport", func(t *testing.T) {
		_, err := New(context.Background(), nil)
		require.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("policy validation", func(t *testing.T) {
		require := require.New(t)

		tests := []struct {
			opt Option
			msg string
		}{
			{WithReconnectTries(-1), "ReconnectTries is -1 but must be larger or equal to 0"},
			{WithMaxAttempts(0), "MaxAttempts is 0 but must be larger or equal to 1"},
			{WithReconnectDelay(-time.Second), "ReconnectDelay is -1s but must be larger or equal to 0s"},
			{WithAttemptDelay(-time.Millisecond), "AttemptDelay is -1ms but must be larger or equal to 0s"},
			{WithQueueSize(0), "QueueSize is 0 but must be larger or equal to 1"},
		}
		for _, tt := range tests {
			_, err := New(context.Background(), newFakeTransport(), tt.opt)
			require.ErrorIs(err, ErrConfiguration)
			require.EqualError(err, tt.msg)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		require := require.New(t)

		dev, err := New(context.Background(), newFakeTransport())
		require.NoError(err)
		defer dev.Close()

		cfg := dev.Config()
		require.Equal("Device", cfg.Name())
		require.Equal(100, cfg.ReconnectTries())
		require.Equal(time.Second, cfg.ReconnectDelay())
		require.Equal(100, cfg.MaxAttempts())
		require.Equal(time.Second, cfg.AttemptDelay())
		require.True(cfg.UseQueue())
		require.False(cfg.ForceClose())
		require.False(cfg.Empty())
	})
}

func TestSendCommand(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr)

	lines, err := dev.SendCommand("*IDN?", WithReturnLines(2))
	require.NoError(err)
	require.Equal([]string{"echo *IDN?", "echo *IDN?"}, lines)

	line, err := dev.Query("POW?", WithWaitTime(5*time.Millisecond))
	require.NoError(err)
	require.Equal("echo POW?", line)

	line, err = dev.Query("POW?", WithoutQueue())
	require.NoError(err)
	require.Equal("echo POW?", line)

	require.EqualValues(3, dev.Metrics().CommandCount.Load())
	require.EqualValues(2, dev.QueueMetrics().CompletedCount.Load())

	_, err = dev.SendCommand("X", WithReturnLines(-1))
	require.ErrorIs(err, ErrConfiguration)
}

func TestSendCommand_FireAndForget(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr)

	called := false
	err := dev.SendWithoutResponse("OUTP ON", WithValidator(func(string, []string) error {
		called = true
		return errors.New("never accepted")
	}))
	require.NoError(err)
	require.False(called)
	require.EqualValues(1, tr.writes.Load())
	require.EqualValues(0, tr.reads.Load())
}

func TestSendCommand_RetryBound(t *testing.T) {
	for _, m := range []int{1, 4, 10} {
		t.Run(fmt.Sprintf("maxAttempts=%d", m), func(t *testing.T) {
			require := require.New(t)
			tr := newFakeTransport()
			tr.readFn = func(string, int) ([]string, error) { return nil, errRead }
			dev := newTestDevice(t, tr, WithName("PID"), WithMaxAttempts(m))

			_, err := dev.SendCommand("SETP 3")
			require.ErrorIs(err, ErrCommunication)
			require.ErrorIs(err, errRead)

			var commErr *CommunicationError
			require.ErrorAs(err, &commErr)
			require.Equal("PID", commErr.Device)
			require.Equal("SETP 3", commErr.Command)
			require.Equal(errRead.Error(), commErr.Message)

			require.EqualValues(m, tr.writes.Load())
			require.EqualValues(m, tr.reads.Load())
			require.EqualValues(m-1, dev.Metrics().RetryCount.Load())
			require.EqualValues(1, dev.Metrics().FailedCount.Load())
			require.ErrorIs(dev.LastError(), errRead)
		})
	}
}

func TestSendCommand_WriteFailure(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	failures := 2
	tr.writeFn = func(string) error {
		if failures > 0 {
			failures--
			return errWrite
		}
		return nil
	}
	dev := newTestDevice(t, tr, WithMaxAttempts(3))

	line, err := dev.Query("WAV?")
	require.NoError(err)
	require.Equal("echo WAV?", line)
	require.EqualValues(3, tr.writes.Load())
	require.EqualValues(1, tr.reads.Load())
}

func TestSendCommand_ValidatorRetries(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	replies := []string{"", "nan", "1550.12"}
	tr.readFn = func(_ string, n int) ([]string, error) {
		line := replies[0]
		replies = replies[1:]
		return []string{line}, nil
	}
	dev := newTestDevice(t, tr, WithMaxAttempts(5))

	line, err := dev.Query("MEAS:WAV?", WithValidator(All(NonEmpty(0), Finite(0))))
	require.NoError(err)
	require.Equal("1550.12", line)
	require.EqualValues(3, tr.writes.Load())
	require.EqualValues(2, tr.flushes.Load())
}

func TestSendCommand_ValidatorExhausted(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr, WithMaxAttempts(2))

	_, err := dev.Query("POW?", WithValidator(MatchReturn("OK", 0)))
	require.ErrorIs(err, ErrCommunication)
	require.Contains(err.Error(), `"POW?"`)
	require.Contains(err.Error(), "return string (echo POW?) is not correct (OK)")
	require.EqualValues(2, tr.flushes.Load())
}

func TestSendCommand_ReconnectBound(t *testing.T) {
	for _, r := range []int{1, 3, 7} {
		t.Run(fmt.Sprintf("reconnectTries=%d", r), func(t *testing.T) {
			require := require.New(t)
			tr := newFakeTransport()
			tr.reopenFn = func(int) error { return errReopen }
			dev := newTestDevice(t, tr, WithReconnectTries(r))

			tr.setOpen(false)
			_, err := dev.Query("POW?")
			require.ErrorIs(err, ErrOpen)
			require.ErrorIs(err, errReopen)
			require.EqualValues(r, tr.reopens.Load())
			require.EqualValues(0, tr.writes.Load())
			require.False(dev.IsOpen())
		})
	}
}

func TestSendCommand_ReconnectDisabled(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr, WithReconnectTries(0))

	tr.setOpen(false)
	_, err := dev.Query("POW?")
	require.ErrorIs(err, ErrOpen)
	require.EqualValues(0, tr.reopens.Load())
}

func TestSendCommand_Reconnects(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	tr.reopenFn = func(n int) error {
		if n < 3 {
			return errReopen
		}
		return nil
	}
	dev := newTestDevice(t, tr, WithReconnectTries(5))

	tr.setOpen(false)
	line, err := dev.Query("POW?")
	require.NoError(err)
	require.Equal("echo POW?", line)
	require.EqualValues(3, tr.reopens.Load())
	require.EqualValues(3, dev.Metrics().ReconnectCount.Load())
	require.True(dev.IsOpen())
}

func TestSendCommand_ForceClose(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr, WithForceClose(true))

	for i := 0; i < 3; i++ {
		_, err := dev.Query("POW?")
		require.NoError(err)
		require.False(tr.IsOpen())
	}
	require.EqualValues(3, tr.reopens.Load())
	require.EqualValues(3, tr.closes.Load())

	// the transport is closed on the error path too
	tr.readFn = func(string, int) ([]string, error) { return nil, errRead }
	_, err := dev.SendCommand("POW?", WithoutQueue())
	require.ErrorIs(err, ErrCommunication)
	require.EqualValues(4, tr.closes.Load())
	require.False(tr.IsOpen())
}

func TestEmptyMode(t *testing.T) {
	require := require.New(t)

	tr := newFakeTransport()
	dev := newTestDevice(t, tr, WithEmpty("OK"))
	for _, cmd := range []string{"POW?", "*RST", ""} {
		lines, err := dev.SendCommand(cmd, WithReturnLines(2))
		require.NoError(err)
		require.Equal([]string{"OK", "OK"}, lines)
	}

	dev.SetEmptyReturn("A", "B", "C")
	lines, err := dev.SendCommand("X", WithReturnLines(2))
	require.NoError(err)
	require.Equal([]string{"A", "B"}, lines)

	lines, err = dev.SendCommand("X", WithReturnLines(5))
	require.NoError(err)
	require.Equal([]string{"A", "B", "C", "C", "C"}, lines)

	lines, err = dev.SendCommand("X", WithReturnLines(0))
	require.NoError(err)
	require.Empty(lines)

	dev.SetEmptyReturn()
	line, err := dev.Query("X")
	require.NoError(err)
	require.Equal("0", line)

	require.True(dev.IsOpen())
	require.NoError(dev.Close())

	require.EqualValues(0, tr.opens.Load())
	require.EqualValues(0, tr.writes.Load())
	require.EqualValues(0, tr.reads.Load())
	require.EqualValues(0, tr.closes.Load())
}

func TestEmptyMode_NilTransport(t *testing.T) {
	require := require.New(t)

	dev, err := New(context.Background(), nil, WithEmpty())
	require.NoError(err)
	defer dev.Close()

	lines, err := dev.SendCommand("POW?", WithReturnLines(2))
	require.NoError(err)
	require.Equal([]string{"0", "0"}, lines)
}

func TestAtMostOneTransportCall(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	tr.ioDelay = 100 * time.Microsecond
	dev := newTestDevice(t, tr)

	var wg sync.WaitGroup
	errs := make(chan error, 16*10)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cmd := fmt.Sprintf("CH%d:POW?", i)
				line, err := dev.Query(cmd)
				if err == nil && line != "echo "+cmd {
					err = fmt.Errorf("unexpected reply %q for %q", line, cmd)
				}
				if err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(err)
	}
	require.False(tr.overlap.Load(), "transport calls overlapped")
	require.EqualValues(160, tr.writes.Load())
}

func TestDevice_FIFO(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr)

	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		cmd := fmt.Sprintf("STEP %d", i)
		want = append(want, cmd)
		require.NoError(dev.SendWithoutResponse(cmd))
	}
	require.Equal(want, tr.sentCommands())
}

func TestClose(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev, err := New(context.Background(), tr, fastPolicy()...)
	require.NoError(err)

	require.NoError(dev.Close())
	require.NoError(dev.Close())
	require.EqualValues(1, tr.closes.Load())
	require.False(dev.IsOpen())

	_, err = dev.Query("POW?")
	require.ErrorIs(err, ErrClosed)
	require.ErrorIs(err, cmdqueue.ErrNotRunning)
	_, err = dev.Query("POW?", WithoutQueue())
	require.ErrorIs(err, ErrClosed)

	// only an explicit Reopen brings it back
	require.NoError(dev.Reopen())
	require.True(dev.IsOpen())
	line, err := dev.Query("POW?")
	require.NoError(err)
	require.Equal("echo POW?", line)
	require.NoError(dev.Close())
}

func TestClose_InterruptsRetryDelay(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	tr.readFn = func(string, int) ([]string, error) { return nil, errRead }

	dev, err := New(context.Background(), tr, WithAttemptDelay(10*time.Second), WithMaxAttempts(3))
	require.NoError(err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = dev.Close()
	}()

	begin := time.Now()
	_, err = dev.Query("POW?")
	require.ErrorIs(err, ErrCommunication)
	require.Less(time.Since(begin), 5*time.Second)
	require.EqualValues(1, tr.writes.Load())
}

func TestClose_BusyConsumerOwnsTransport(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()

	dev, err := New(context.Background(), tr, append(fastPolicy(), WithCloseTimeout(10*time.Millisecond))...)
	require.NoError(err)
	tr.ioDelay = 100 * time.Millisecond

	result := make(chan error, 1)
	go func() {
		_, err := dev.Query("MEAS?")
		result <- err
	}()
	require.Eventually(func() bool { return tr.inflight.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(dev.Close())
	require.False(dev.IsOpen())
	require.EqualValues(0, tr.closes.Load(), "the transport stays with the running command")

	// a command accepted before Close completes normally
	require.NoError(<-result)
	require.Eventually(func() bool { return tr.closes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.False(tr.overlap.Load())

	_, err = dev.Query("MEAS?")
	require.ErrorIs(err, ErrClosed)

	// Reopen after the deferred close brings the device back
	tr.ioDelay = 0
	require.NoError(dev.Reopen())
	line, err := dev.Query("MEAS?")
	require.NoError(err)
	require.Equal("echo MEAS?", line)
	require.NoError(dev.Close())
	require.False(tr.overlap.Load())
}

func TestReopen_RunningDevice(t *testing.T) {
	require := require.New(t)
	tr := newFakeTransport()
	dev := newTestDevice(t, tr, WithQueue(false))

	require.NoError(dev.Reopen())
	require.EqualValues(1, tr.reopens.Load())

	tr.reopenFn = func(int) error { return errReopen }
	err := dev.Reopen()
	require.ErrorIs(err, ErrOpen)
	require.Equal(0, dev.QueueSize())
}
