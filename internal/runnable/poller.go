// Package runnable implements the Poller primitive shared by the
// dispatcher, worker, and scheduler runnables (spec §4.2): a long-lived
// loop that registers itself in Process, heartbeats on a timer, and sleeps
// interruptibly between poll cycles.
package runnable

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/process"
	"github.com/civic-os/pgqueue/internal/store"
)

// PollFunc runs one poll cycle and returns how long the loop should sleep
// before the next one. Returning zero asks for an immediate re-poll (used
// to drain backlogs).
type PollFunc func(ctx context.Context) (time.Duration, error)

// Poller drives a PollFunc on a timer, registers its own Process row, and
// maintains that row's heartbeat until shut down.
type Poller struct {
	Name             string
	Kind             model.ProcessKind
	SupervisorID     *uuid.UUID
	HeartbeatEvery   time.Duration
	Store            *store.Store
	Poll             PollFunc
	OnHeartbeatError func(error)
	OnPollError      func(error)

	handle   *process.Handle
	stopping atomic.Bool
	wake     chan struct{}
}

// Run registers the process, starts the heartbeat timer, and blocks
// running Poll in a loop until ctx is cancelled or Stop is called. It
// always deregisters and stops the heartbeat before returning, per spec
// §4.2's shutdown contract.
func (p *Poller) Run(ctx context.Context) error {
	p.wake = make(chan struct{}, 1)

	h, err := process.Register(ctx, p.Store, p.Name, p.Kind, p.SupervisorID, nil)
	if err != nil {
		return err
	}
	p.handle = h

	heartbeatInterval := p.HeartbeatEvery
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Minute
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go p.runHeartbeat(heartbeatCtx, ticker)

	defer func() {
		_ = process.Deregister(context.Background(), p.Store, p.handle)
	}()

	for {
		if ctx.Err() != nil || p.stopping.Load() {
			return nil
		}
		if !p.handle.IsRegistered() {
			return nil
		}

		interval, err := p.Poll(ctx)
		if err != nil && p.OnPollError != nil {
			p.OnPollError(err)
		}
		if interval <= 0 {
			continue
		}
		if p.sleep(ctx, interval) {
			return nil
		}
	}
}

func (p *Poller) runHeartbeat(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.handle.IsRegistered() {
				return
			}
			if err := p.handle.Heartbeat(ctx, p.Store); err != nil {
				if p.OnHeartbeatError != nil {
					p.OnHeartbeatError(err)
				}
				continue
			}
			if !p.handle.IsRegistered() {
				p.WakeUp()
			}
		}
	}
}

// sleep waits up to d for ctx cancellation, a Stop, or a WakeUp call.
// Returns true if the loop should exit.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return p.stopping.Load()
	case <-p.wake:
		return p.stopping.Load()
	}
}

// WakeUp interrupts the current sleep, if any, causing an immediate
// re-poll.
func (p *Poller) WakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop flips the shutdown flag and wakes the sleeper; Run returns once the
// current Poll call completes.
func (p *Poller) Stop() {
	p.stopping.Store(true)
	p.WakeUp()
}

// Handle exposes the bound Process handle for callers that need the
// process id (e.g. a worker passing its own id to queue.Claim).
func (p *Poller) Handle() *process.Handle { return p.handle }
