package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_WaitForIdle_ReturnsImmediatelyWhenIdle(t *testing.T) {
	c := New()

	err := c.WaitForIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_Run_CountsItselfBeforeReturning(t *testing.T) {
	c := New()
	release := make(chan struct{})
	seen := make(chan int64, 1)

	require.NoError(t, c.Run("probe", func(ctx context.Context) error {
		seen <- c.InFlight()
		<-release
		return nil
	}))

	assert.Equal(t, int64(1), c.InFlight())
	assert.Equal(t, int64(1), <-seen)

	close(release)
	require.NoError(t, c.WaitForIdle(context.Background()))
	assert.Equal(t, int64(0), c.InFlight())
}

func TestCoordinator_CounterReturnsToZero(t *testing.T) {
	c := New()
	const n = 64

	gates := make([]chan struct{}, n)
	for i := range gates {
		gates[i] = make(chan struct{})
		gate := gates[i]
		require.NoError(t, c.Run("task", func(ctx context.Context) error {
			<-gate
			return nil
		}))
	}
	assert.Equal(t, int64(n), c.InFlight())

	// Release in reverse order so completion order differs from dispatch order.
	for i := n - 1; i >= 0; i-- {
		close(gates[i])
	}

	require.NoError(t, c.WaitForIdle(context.Background()))
	assert.Equal(t, int64(0), c.InFlight())
}

func TestCoordinator_AllWaitersResolvedExactlyOnce(t *testing.T) {
	c := New()
	release := make(chan struct{})
	require.NoError(t, c.Run("blocker", func(ctx context.Context) error {
		<-release
		return nil
	}))

	const waiters = 10
	var resolved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.WaitForIdle(context.Background()); err == nil {
				resolved.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return c.Pending() == waiters }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(waiters), resolved.Load())
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_WaitersQueueInRegistrationOrder(t *testing.T) {
	c := New()
	release := make(chan struct{})
	require.NoError(t, c.Run("blocker", func(ctx context.Context) error {
		<-release
		return nil
	}))

	var wg sync.WaitGroup
	var registered []*idleWaiter
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.WaitForIdle(context.Background())
		}()
		require.Eventually(t, func() bool { return c.Pending() == i+1 }, time.Second, time.Millisecond)

		c.mu.Lock()
		registered = append(registered, c.waiters[i])
		c.mu.Unlock()
	}

	c.mu.Lock()
	for i, w := range c.waiters {
		assert.Same(t, registered[i], w)
	}
	c.mu.Unlock()

	close(release)
	wg.Wait()
	for _, w := range registered {
		select {
		case <-w.done:
		default:
			t.Fatal("waiter not released")
		}
	}
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_WaitForIdle_Cancelled(t *testing.T) {
	c := New()
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, c.Run("blocker", func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.WaitForIdle(ctx) }()

	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending(), "cancelled waiter must be removed")
	assert.Equal(t, int64(1), c.InFlight(), "cancelling a wait must not cancel work")
}

func TestCoordinator_FailingWorkStillDecrements(t *testing.T) {
	var failures atomic.Int32
	c := New(WithErrorHandler(func(label string, err error) {
		failures.Add(1)
	}))

	require.NoError(t, c.Run("error", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, c.Run("panic", func(ctx context.Context) error {
		panic("kaboom")
	}))

	require.NoError(t, c.WaitForIdle(context.Background()))
	assert.Equal(t, int64(0), c.InFlight())
	assert.Equal(t, int32(2), failures.Load())
}

func TestCoordinator_CoalescingByCounter(t *testing.T) {
	c := New()
	var compiles atomic.Int32
	start := make(chan struct{})

	rebuild := func(ctx context.Context) error {
		<-start
		if c.InFlight() > 1 {
			return nil
		}
		compiles.Add(1)
		return nil
	}

	const burst = 8
	for i := 0; i < burst; i++ {
		require.NoError(t, c.Run("rebuild", rebuild))
	}

	// Release one task at a time so each observes the count of the rest.
	for i := 0; i < burst; i++ {
		start <- struct{}{}
		want := int64(burst - i - 1)
		require.Eventually(t, func() bool { return c.InFlight() == want }, time.Second, time.Millisecond)
	}

	require.NoError(t, c.WaitForIdle(context.Background()))
	assert.Equal(t, int32(1), compiles.Load())
}

func TestCoordinator_Close(t *testing.T) {
	c := New()
	cancelled := make(chan struct{})
	require.NoError(t, c.Run("long", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	require.NoError(t, c.Close(context.Background()))
	<-cancelled

	assert.ErrorIs(t, c.Run("late", func(ctx context.Context) error { return nil }), ErrClosed)
	assert.Equal(t, int64(0), c.InFlight())
}
