// Package join provides a counted join for fan-out/fan-in coordination of
// asynchronous store operations.
//
// A Counter starts with one pending unit representing setup. Callers Acquire
// before issuing each sub-operation, Release when it completes, and perform a
// final Release once all up-front work has been issued. The continuation
// registered with WhenDone runs exactly once: when the pending count reaches
// zero, or as soon as any sub-operation releases with an error.
package join

import (
	"context"
	"sync"
)

// Counter tracks outstanding sub-operations of one unit of work.
type Counter struct {
	mu           sync.Mutex
	pending      int
	continuation func(error)
	err          error
	fired        bool
}

// New returns a Counter holding the implicit setup unit.
func New() *Counter {
	return &Counter{pending: 1}
}

// Acquire registers one more outstanding sub-operation.
// It must be called before the sub-operation is issued.
func (c *Counter) Acquire() {
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
}

// Release marks one sub-operation as complete. A non-nil err aborts the join:
// the continuation fires with err and later releases are ignored.
func (c *Counter) Release(err error) {
	c.mu.Lock()
	if c.pending > 0 {
		c.pending--
	}
	if err != nil && c.err == nil && !c.fired {
		c.err = err
	}
	fn := c.take()
	c.mu.Unlock()

	c.fire(fn)
}

// WhenDone sets the continuation and fires it right away if the work has
// already completed or failed.
func (c *Counter) WhenDone(fn func(error)) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.continuation = fn
	next := c.take()
	c.mu.Unlock()

	c.fire(next)
}

// Wait blocks until the continuation would fire or ctx is done. It replaces
// any continuation registered earlier. If the join already fired, Wait returns
// its result immediately.
func (c *Counter) Wait(ctx context.Context) error {
	done := make(chan error, 1)

	c.mu.Lock()
	if c.fired {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.continuation = func(err error) { done <- err }
	next := c.take()
	c.mu.Unlock()
	c.fire(next)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of outstanding units.
func (c *Counter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Done reports whether the continuation has fired.
func (c *Counter) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// take returns the continuation to run, if any, and clears it.
// Caller must hold c.mu.
func (c *Counter) take() func() {
	if c.continuation == nil || c.fired {
		return nil
	}
	if c.pending != 0 && c.err == nil {
		return nil
	}

	fn, err := c.continuation, c.err
	c.continuation = nil
	c.fired = true
	return func() { fn(err) }
}

func (c *Counter) fire(fn func()) {
	if fn != nil {
		fn()
	}
}
