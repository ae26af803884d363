// Package worker implements the Worker runnable of spec §4.3: a bounded
// task pool claiming ReadyExecutions and running the user callable on
// each, committing the success/failure transaction afterward.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// pool is a bounded task pool sized to threads, following spec §5's "the
// task-pool's available-slot counter (a mutex-protected integer)" — here
// golang.org/x/sync/semaphore's weighted semaphore gates concurrency and
// an atomic counter tracks in-flight tasks for availableSlots, instead of
// hand-rolling a mutex-protected int.
type pool struct {
	sem      *semaphore.Weighted
	size     int64
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

func newPool(threads int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(threads)), size: int64(threads)}
}

// availableSlots reports how many tasks could be submitted right now
// without blocking (spec §4.3 step 1 "pool.available_slots()").
func (p *pool) availableSlots() int {
	free := p.size - p.inFlight.Load()
	if free < 0 {
		return 0
	}
	return int(free)
}

// submit blocks until a slot is free, then runs fn in its own goroutine,
// releasing the slot when fn returns. onDone is invoked after release so
// callers (the poll loop) can wake themselves when capacity frees up.
func (p *pool) submit(ctx context.Context, fn func(), onDone func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inFlight.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if onDone != nil {
				onDone()
			}
		}()
		defer p.inFlight.Add(-1)
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// wait blocks until every submitted task has returned — used at shutdown.
func (p *pool) wait() { p.wg.Wait() }
