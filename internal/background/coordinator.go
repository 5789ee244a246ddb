// Package background runs project work off the request path.
//
// The Coordinator tracks in-flight work with a single counter rather than a
// queue. Callers that want to coalesce bursts of triggers check InFlight from
// inside their own work: a task that finds other tasks still running can skip
// its expensive step, knowing a later task will observe a count of one.
package background

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrClosed is returned by Run after Close has been called.
var ErrClosed = errors.New("background coordinator closed")

// Work is a unit of background work. The context is cancelled when the
// coordinator is closed; work should check it between phases.
type Work func(ctx context.Context) error

// Coordinator dispatches work asynchronously and lets callers wait until no
// work remains.
type Coordinator struct {
	inFlight atomic.Int64

	mu      sync.Mutex
	waiters []*idleWaiter

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	logger  *slog.Logger
	onError func(label string, err error)
}

// idleWaiter is resolved exactly once, by whoever removes it from the
// waiter list under mu.
type idleWaiter struct {
	done chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for task lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithErrorHandler sets a callback invoked when a task returns an error or
// panics. It runs on the task goroutine before the counter is decremented.
func WithErrorHandler(fn func(label string, err error)) Option {
	return func(c *Coordinator) {
		c.onError = fn
	}
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run increments the in-flight counter and executes work on its own
// goroutine. The counter is decremented when work returns, fails or panics;
// if that brings it to zero every pending idle waiter is released.
//
// The increment happens before Run returns, so work that inspects InFlight
// always counts itself.
func (c *Coordinator) Run(label string, work Work) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.inFlight.Add(1)
	id := uuid.NewString()

	go func() {
		defer c.finish()
		c.execute(id, label, work)
	}()

	return nil
}

// execute runs work, converting panics into errors. Errors never escape.
func (c *Coordinator) execute(id, label string, work Work) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in background task %q: %v", label, r)
				c.logger.Error("background task panic",
					"task_id", id,
					"label", label,
					"stack", string(debug.Stack()))
			}
		}()
		c.logger.Debug("background task started", "task_id", id, "label", label)
		err = work(c.ctx)
	}()

	if err == nil {
		c.logger.Debug("background task finished", "task_id", id, "label", label)
		return
	}

	c.logger.Warn("background task failed", "task_id", id, "label", label, "error", err)
	if c.onError != nil {
		c.onError(label, err)
	}
}

// finish decrements the counter and releases idle waiters at zero.
func (c *Coordinator) finish() {
	if c.inFlight.Add(-1) != 0 {
		return
	}

	c.mu.Lock()
	// Another task may have started between the decrement and the lock;
	// its own completion will release the waiters.
	if c.inFlight.Load() != 0 {
		c.mu.Unlock()
		return
	}
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		close(w.done)
	}
}

// InFlight returns the number of tasks dispatched and not yet completed.
func (c *Coordinator) InFlight() int64 {
	return c.inFlight.Load()
}

// Pending returns the number of registered idle waiters.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// WaitForIdle blocks until no background work is in flight or ctx is done.
// It returns nil immediately if the counter is already zero, and ctx.Err()
// if the context fired first. Cancelling the wait does not cancel any work.
func (c *Coordinator) WaitForIdle(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight.Load() == 0 {
		c.mu.Unlock()
		return nil
	}
	w := &idleWaiter{done: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	removed := c.removeWaiter(w)
	c.mu.Unlock()

	if !removed {
		// finish took the waiter before we could; it resolved as idle.
		<-w.done
		return nil
	}
	return ctx.Err()
}

// removeWaiter must be called with mu held.
func (c *Coordinator) removeWaiter(target *idleWaiter) bool {
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Close stops accepting work and cancels the context passed to running
// tasks. It waits for running tasks to drain until ctx is done.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	return c.WaitForIdle(ctx)
}
