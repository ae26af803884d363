package runnable

import (
	"context"
	"sync"

	"oss.nandlabs.io/golly/lifecycle"
)

// component adapts a runnable's own Run(ctx)/Stop() pair to
// lifecycle.Component, so internal/supervisor can drive the single
// runnable inside a re-exec'd child process through a golly
// ComponentManager (SPEC_FULL.md §2 "every long-lived runnable ... implements
// lifecycle.Component"). Wrapping Run/Stop directly, rather than reaching
// into a Poller field, keeps any shutdown behavior layered above the
// poller (the worker's pool drain) intact.
type component struct {
	id   string
	run  func(context.Context) error
	stop func()

	mu    sync.Mutex
	state lifecycle.ComponentState

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// AsComponent wraps run/stop as a lifecycle.Component identified by id.
// Start launches run in the background against context.Background and
// returns immediately; Stop calls the supplied stop and blocks until run
// returns.
func AsComponent(id string, run func(context.Context) error, stop func()) lifecycle.Component {
	return &component{id: id, run: run, stop: stop}
}

func (c *component) Id() string { return c.id }

// OnChange satisfies lifecycle.Component's state-change hook. pgqueue has
// no use for per-transition notifications (the supervisor only needs
// Start/Stop/State), so this is a no-op.
func (c *component) OnChange(prevState, newState lifecycle.ComponentState) {}

func (c *component) State() lifecycle.ComponentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *component) setState(s lifecycle.ComponentState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *component) Start() error {
	c.setState(lifecycle.Starting)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan error, 1)
	go func() {
		err := c.run(c.ctx)
		c.setState(lifecycle.Stopped)
		c.done <- err
	}()
	c.setState(lifecycle.Running)
	return nil
}

func (c *component) Stop() error {
	c.setState(lifecycle.Stopping)
	c.stop()
	if c.cancel != nil {
		c.cancel()
	}
	if c.done == nil {
		return nil
	}
	return <-c.done
}
