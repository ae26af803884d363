// Package retention implements the retention sweeper of spec §4.9:
// periodically deletes finished Jobs older than a cutoff, in batches with
// a sleep between batches to avoid holding long-lived locks.
package retention

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civic-os/pgqueue/internal/store"
)

// Sweep deletes finished Jobs with finished_at < now()-olderThan in
// batches of batchSize, sleeping interBatchSleep between batches, until a
// batch comes back short of batchSize (nothing left to sweep) or ctx is
// cancelled. When preserveFinishedJobs is false the sweeper is a no-op —
// finished jobs are already deleted at transition time (spec §4.9).
func Sweep(ctx context.Context, s *store.Store, olderThan time.Duration, batchSize int, interBatchSleep time.Duration, preserveFinishedJobs bool) (int, error) {
	if !preserveFinishedJobs {
		return 0, nil
	}

	cutoff := time.Now().Add(-olderThan)
	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		var n int
		err := s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			var err error
			n, err = store.DeleteFinishedJobsBefore(ctx, tx, cutoff, batchSize)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			return total, nil
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(interBatchSleep):
		}
	}
}
