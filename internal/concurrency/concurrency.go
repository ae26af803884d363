// Package concurrency implements admission control via named semaphores
// and BlockedExecutions (spec §4.6).
package concurrency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/store"
)

// Admission is what the job state machine needs to decide where a
// concurrency-keyed job lands.
type Admission struct {
	Key      string
	Limit    int
	Duration time.Duration
	Group    *string
}

// Acquire upserts (and locks) the Semaphore row for key; if a permit is
// available it decrements the value and reports admitted=true, otherwise
// it reports admitted=false and the caller inserts a BlockedExecution
// (spec §4.6 "Acquire"). Must run inside a transaction — the caller
// (internal/queue) owns the BlockedExecution/ReadyExecution insert that
// follows in the same transaction.
func Acquire(ctx context.Context, tx pgx.Tx, a Admission) (admitted bool, err error) {
	sem, err := store.LockOrInitSemaphore(ctx, tx, a.Key, a.Limit, a.Group)
	if err != nil {
		return false, err
	}

	expired := sem.ExpiresAt != nil && sem.ExpiresAt.Before(time.Now())
	if sem.Value <= 0 && !expired {
		return false, nil
	}

	expiresAt := time.Now().Add(a.Duration)
	if err := store.DecrementSemaphore(ctx, tx, a.Key, expiresAt); err != nil {
		return false, err
	}
	return true, nil
}

// Release returns a permit for key and, if a BlockedExecution is waiting,
// promotes the best-ranked one to ReadyExecution — recursively retrying
// admission if several are waiting and more than one permit is now free
// (spec §4.6 "Release"). Must run inside a transaction.
func Release(ctx context.Context, tx pgx.Tx, key string) error {
	if err := store.IncrementSemaphore(ctx, tx, key); err != nil {
		return err
	}
	return promoteWaiting(ctx, tx, key)
}

func promoteWaiting(ctx context.Context, tx pgx.Tx, key string) error {
	for {
		be, err := store.LowestBlockedForKey(ctx, tx, key)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		// Upsert with the waiting job's own limit: LockOrInitSemaphore
		// rewrites the stored limit, which caps every later Release.
		job, err := store.GetJob(ctx, tx, be.JobID)
		if err != nil {
			return err
		}
		limit := 1
		if job.ConcurrencyLim != nil {
			limit = *job.ConcurrencyLim
		}
		sem, err := store.LockOrInitSemaphore(ctx, tx, key, limit, job.ConcurrencyGrp)
		if err != nil {
			return err
		}
		if sem.Value <= 0 {
			return nil
		}

		if err := promoteOne(ctx, tx, *be); err != nil {
			return err
		}
		if err := store.DecrementSemaphore(ctx, tx, key, time.Now().Add(time.Hour)); err != nil {
			return err
		}
		if sem.Value-1 <= 0 {
			return nil
		}
		// value > 1 still: loop to see if another blocked row can also be
		// promoted, per spec §4.6's "recursively re-trying admission".
	}
}

func promoteOne(ctx context.Context, tx pgx.Tx, be model.BlockedExecution) error {
	if err := store.DeleteBlockedExecution(ctx, tx, be.JobID); err != nil {
		return err
	}
	return store.InsertReadyExecution(ctx, tx, be.JobID, be.QueueName, be.Priority)
}

// MaintainExpired promotes BlockedExecutions whose lease has expired
// regardless of the semaphore's reported value — the periodic safety net
// for leaked permits spec §4.6 describes. It runs its own transaction per
// batch so one runaway key can't hold a long-lived lock over the whole
// sweep.
func MaintainExpired(ctx context.Context, s *store.Store, batchSize int) (int, error) {
	promoted := 0
	err := s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		expired, err := store.ExpiredBlockedExecutions(ctx, tx, time.Now(), batchSize)
		if err != nil {
			return err
		}
		for _, be := range expired {
			if err := promoteOne(ctx, tx, be); err != nil {
				return err
			}
			if err := store.IncrementSemaphore(ctx, tx, be.ConcurrencyKey); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	return promoted, err
}
