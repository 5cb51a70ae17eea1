// Package task runs the long-lived goroutines of servers and pollers under a
// shared, cancellable lifetime.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-labrpc/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task manager already stopped")

// LoopFunc is called repeatedly until it returns false or the manager stops.
type LoopFunc func(ctx context.Context) bool

// RunFunc is called once. It must return when ctx is done.
type RunFunc func(ctx context.Context)

// CancelFunc is called after a task exits.
type CancelFunc func()

// Manager manages the lifecycle of goroutines.
//
// Stop cancels the context handed to every task and Wait blocks until all of
// them returned. After Wait the manager can start tasks again.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("acceptLoop", func(ctx context.Context) bool {
//	    return acceptOnce(ctx)
//	})
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager whose tasks stop when ctx is done.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context handed to tasks.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs loopFunc in a new goroutine until it returns false or the manager stops.
func (mgr *Manager) Start(name string, loopFunc LoopFunc) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func(ctx context.Context) {
		mgr.runLoop(ctx, name, loopFunc)
	})
}

// Go runs runFunc once in a new goroutine. cancelFunc, if not nil, is called after runFunc returns.
func (mgr *Manager) Go(name string, runFunc RunFunc, cancelFunc CancelFunc) error {
	mgr.logger.Debug("start worker task", "name", name)

	return mgr.spawn(name, func(ctx context.Context) {
		if cancelFunc != nil {
			defer cancelFunc()
		}
		mgr.callWithRecover(name, func() { runFunc(ctx) })
	})
}

// StartInterval runs loopFunc every interval until it returns false, the
// interval is stopped, or the manager stops. With runNow set the first run
// happens before StartInterval returns.
func (mgr *Manager) StartInterval(name string, loopFunc LoopFunc, interval time.Duration, runNow bool) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.CompareAndDelete(name, ticker)
	}

	ctx := mgr.Context()
	if runNow && !mgr.callWithRecoverBool(name, func() bool { return loopFunc(ctx) }) {
		cleanup()
		return nil
	}

	err := mgr.spawn(name, func(ctx context.Context) {
		defer cleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecoverBool(name, func() bool { return loopFunc(ctx) }) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
	}

	return err
}

// StopInterval stops the interval task with the given name.
func (mgr *Manager) StopInterval(name string) error {
	val, ok := mgr.tickers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("ticker %s not found", name)
	}

	ticker, _ := val.(*time.Ticker)
	ticker.Stop()

	return nil
}

// Stop signals all running tasks.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all tasks to terminate and re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// WaitTimeout is like Wait but gives up after timeout. It reports whether all tasks terminated.
func (mgr *Manager) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// TaskCount returns the number of running tasks.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func(ctx context.Context)) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	ctx := mgr.Context()
	select {
	case <-ctx.Done():
		return ErrStopped
	default:
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug(name+" task terminated", "task_count", mgr.TaskCount())
		}()

		body(ctx)
	}()

	return nil
}

func (mgr *Manager) runLoop(ctx context.Context, name string, loopFunc LoopFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !mgr.callWithRecoverBool(name, func() bool { return loopFunc(ctx) }) {
				return
			}
		}
	}
}

func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

// callWithRecoverBool returns false if fn panics so a broken loop stops.
func (mgr *Manager) callWithRecoverBool(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}
