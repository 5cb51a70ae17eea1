package opstate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicState(t *testing.T) {
	require := require.New(t)

	var st AtomicState
	require.True(st.IsClosed())
	require.Equal("Closed", st.String())

	require.False(st.ToClosing())
	require.False(st.ToOpened())

	require.True(st.ToOpening())
	require.False(st.ToOpening())
	require.True(st.IsOpening())

	require.True(st.ToOpened())
	require.True(st.ToOpened())
	require.Equal("Opened", st.String())

	require.True(st.ToClosing())
	require.False(st.ToClosing())
	require.True(st.ToClosed())
	require.True(st.ToClosed())

	st.Set(State(42))
	require.Equal("Unknown", st.String())
}

func TestAtomicState_SingleCloser(t *testing.T) {
	require := require.New(t)

	var st AtomicState
	st.Set(Opened)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st.ToClosing() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(1, winners.Load())
	require.True(st.IsClosing())
}
