package irq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slackhq/openeth/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoft_AttachTwice(t *testing.T) {
	c := NewSoft(test.NewLogger())
	require.NoError(t, c.Attach(3, func() {}))
	assert.ErrorIs(t, c.Attach(3, func() {}), ErrAttached)

	require.NoError(t, c.Detach(3))
	assert.ErrorIs(t, c.Detach(3), ErrNotAttached)
	assert.NoError(t, c.Attach(3, func() {}))
}

func TestSoft_InvalidSource(t *testing.T) {
	c := NewSoft(test.NewLogger())
	assert.ErrorIs(t, c.Attach(-1, func() {}), ErrInvalidSource)
	assert.ErrorIs(t, c.Enable(MaxSources), ErrInvalidSource)
	assert.False(t, c.Enabled(MaxSources))
	c.Raise(MaxSources)
}

func TestSoft_RaiseDelivery(t *testing.T) {
	c := NewSoft(test.NewLogger())
	var calls int
	require.NoError(t, c.Attach(1, func() { calls++ }))

	c.Raise(1)
	assert.Equal(t, 0, calls, "disabled line must not deliver")
	assert.True(t, c.Pending(1))

	require.NoError(t, c.ClearPending(1))
	require.NoError(t, c.Enable(1))
	assert.Equal(t, 0, calls, "cleared pending must not deliver on enable")

	c.Raise(1)
	assert.Equal(t, 1, calls)
	assert.False(t, c.Pending(1))

	require.NoError(t, c.Disable(1))
	c.Raise(1)
	assert.Equal(t, 1, calls)

	// Pending interrupts are delivered when the line is enabled again.
	require.NoError(t, c.Enable(1))
	assert.Equal(t, 2, calls)
}

func TestSoft_RaiseFromHandler(t *testing.T) {
	c := NewSoft(test.NewLogger())
	var calls int
	require.NoError(t, c.Attach(2, func() {
		calls++
		if calls == 1 {
			c.Raise(2)
		}
	}))
	require.NoError(t, c.Enable(2))

	c.Raise(2)
	assert.Equal(t, 2, calls, "raise from inside the handler runs it again after it returns")
}

func TestSoft_SerializedHandlers(t *testing.T) {
	c := NewSoft(test.NewLogger())
	var inside, overlap atomic.Int32
	var calls atomic.Int32
	require.NoError(t, c.Attach(4, func() {
		if inside.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		calls.Add(1)
		inside.Add(-1)
	}))
	require.NoError(t, c.Enable(4))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Raise(4)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlap.Load())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.False(t, c.Pending(4))
}

func TestSoft_DetachWaitsForHandler(t *testing.T) {
	c := NewSoft(test.NewLogger())
	entered := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Bool
	require.NoError(t, c.Attach(5, func() {
		close(entered)
		<-release
		done.Store(true)
	}))
	require.NoError(t, c.Enable(5))

	go c.Raise(5)
	<-entered

	detached := make(chan struct{})
	go func() {
		assert.NoError(t, c.Detach(5))
		close(detached)
	}()

	select {
	case <-detached:
		t.Fatal("Detach returned while the handler was running")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	<-detached
	assert.True(t, done.Load())
	assert.False(t, c.Attached(5))
	assert.False(t, c.Enabled(5))
}

func TestSoft_Wakeup(t *testing.T) {
	c := NewSoft(test.NewLogger())
	assert.False(t, c.Wakeup(7))
	require.NoError(t, c.SetWakeup(7))
	assert.True(t, c.Wakeup(7))
}
