package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-labrpc/logger"
	"github.com/stretchr/testify/require"
)

func TestManager_Start(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), logger.GetLogger())

	var loops atomic.Int32
	require.NoError(mgr.Start("counter", func(ctx context.Context) bool {
		return loops.Add(1) < 5
	}))

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
	require.EqualValues(5, loops.Load())
}

func TestManager_StopAndRestart(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), logger.GetLogger())

	cancelled := make(chan struct{})
	require.NoError(mgr.Go("worker", func(ctx context.Context) {
		<-ctx.Done()
	}, func() { close(cancelled) }))
	require.Equal(1, mgr.TaskCount())

	mgr.Stop()
	require.ErrorIs(mgr.Start("late", func(context.Context) bool { return false }), ErrStopped)

	mgr.Wait()
	<-cancelled
	require.Equal(0, mgr.TaskCount())

	// Wait re-arms the manager
	done := make(chan struct{})
	require.NoError(mgr.Go("again", func(context.Context) { close(done) }, nil))
	<-done
	mgr.Stop()
	require.True(mgr.WaitTimeout(time.Second))
}

func TestManager_PanicRecovered(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), logger.GetLogger())
	require.NoError(mgr.Start("boom", func(context.Context) bool {
		panic("bad task")
	}))

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_StartInterval(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), logger.GetLogger())
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	var runs atomic.Int32
	require.Error(mgr.StartInterval("bad", func(context.Context) bool { return true }, 0, false))

	require.NoError(mgr.StartInterval("poll", func(context.Context) bool {
		runs.Add(1)
		return true
	}, 10*time.Millisecond, true))
	require.GreaterOrEqual(runs.Load(), int32(1))

	require.Error(mgr.StartInterval("poll", func(context.Context) bool { return true }, time.Second, false))

	require.Eventually(func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(mgr.StopInterval("poll"))
	require.Error(mgr.StopInterval("poll"))
}
