// Package queue implements the Job state machine (spec §4.1): the
// transitions between ScheduledExecution, ReadyExecution, ClaimedExecution,
// BlockedExecution, and FailedExecution, each performed as a single
// database transaction so "at most one sibling row per job" always holds.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-os/pgqueue/internal/concurrency"
	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/queueerrors"
	"github.com/civic-os/pgqueue/internal/store"
)

// JobAttributes is an alias of store.JobAttributes so callers outside
// internal/store never need to import it directly.
type JobAttributes = store.JobAttributes

// Enqueue inserts a Job and, in the same transaction, either parks it as
// a ScheduledExecution (scheduled_at in the future) or runs concurrency
// admission and inserts the matching Ready/BlockedExecution (spec §4.1's
// "enqueue" arrow).
func Enqueue(ctx context.Context, tx pgx.Tx, attrs store.JobAttributes) (model.Job, error) {
	job, err := store.InsertJob(ctx, tx, attrs)
	if err != nil {
		return model.Job{}, &queueerrors.EnqueueError{Cause: err}
	}

	if attrs.ScheduledAt != nil && attrs.ScheduledAt.After(time.Now()) {
		if err := store.InsertScheduledExecution(ctx, tx, job.ID, attrs.QueueName, attrs.Priority, *attrs.ScheduledAt); err != nil {
			return model.Job{}, &queueerrors.EnqueueError{Cause: err}
		}
		return job, nil
	}

	if err := admitOrBlock(ctx, tx, job, attrs.QueueName, attrs.Priority); err != nil {
		return model.Job{}, &queueerrors.EnqueueError{Cause: err}
	}
	return job, nil
}

// admitOrBlock runs concurrency admission for a due job and inserts the
// resulting Ready or BlockedExecution. Jobs without a concurrency_key skip
// admission entirely and go straight to Ready.
func admitOrBlock(ctx context.Context, tx pgx.Tx, job model.Job, queueName string, priority int) error {
	if job.ConcurrencyKey == nil {
		return store.InsertReadyExecution(ctx, tx, job.ID, queueName, priority)
	}

	limit := 1
	if job.ConcurrencyLim != nil {
		limit = *job.ConcurrencyLim
	}
	duration := 3 * time.Minute
	if job.ConcurrencyDur != nil {
		duration = *job.ConcurrencyDur
	}

	admitted, err := concurrency.Acquire(ctx, tx, concurrency.Admission{
		Key:      *job.ConcurrencyKey,
		Limit:    limit,
		Duration: duration,
		Group:    job.ConcurrencyGrp,
	})
	if err != nil {
		return err
	}
	if admitted {
		return store.InsertReadyExecution(ctx, tx, job.ID, queueName, priority)
	}
	return store.InsertBlockedExecution(ctx, tx, job.ID, queueName, priority, *job.ConcurrencyKey, time.Now().Add(duration))
}

// DispatchDueScheduled promotes up to batchSize due ScheduledExecutions to
// Ready or Blocked (spec §4.1/§4.7, the Dispatcher's batch step).
func DispatchDueScheduled(ctx context.Context, tx pgx.Tx, batchSize int) (int, error) {
	due, err := store.DueScheduledExecutions(ctx, tx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}
	for _, se := range due {
		if err := store.DeleteScheduledExecution(ctx, tx, se.JobID); err != nil {
			return 0, err
		}
		job, err := store.GetJob(ctx, tx, se.JobID)
		if err != nil {
			return 0, err
		}
		if err := admitOrBlock(ctx, tx, job, se.QueueName, se.Priority); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

// Claim resolves queueNames in order and, for each, locks and claims up to
// the remaining limit of ReadyExecution rows on processID's behalf (spec
// §4.3). A nil/zero processID is a no-op returning an empty set — invariant
// 10: never insert ClaimedExecutions without a live Process.
func Claim(ctx context.Context, tx pgx.Tx, processID uuid.UUID, queueNames []string, limit int) ([]model.ClaimedExecution, error) {
	if processID == uuid.Nil || limit <= 0 {
		return nil, nil
	}

	var claimed []model.ClaimedExecution
	for _, queueName := range queueNames {
		remaining := limit - len(claimed)
		if remaining <= 0 {
			break
		}
		rows, err := store.ClaimReady(ctx, tx, processID, queueName, remaining)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rows...)
	}
	return claimed, nil
}

// Finish marks a Job finished and deletes its ClaimedExecution; if
// preserveFinishedJobs is false the Job row is deleted outright instead
// (spec §4.3 step 4 "Success").
func Finish(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, preserveFinishedJobs bool) error {
	if err := store.DeleteClaimedExecution(ctx, tx, jobID); err != nil {
		return err
	}
	if !preserveFinishedJobs {
		return store.DeleteJob(ctx, tx, jobID)
	}
	_, err := store.MarkJobFinished(ctx, tx, jobID)
	return err
}

// Fail records a FailedExecution with the captured error, deletes the
// ClaimedExecution, and releases the Job's concurrency permit if it holds
// one — which may promote a BlockedExecution to Ready (spec §4.3 step 4
// "Failure", §4.6 "Release").
func Fail(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, cause error) error {
	jf := &queueerrors.JobFailure{Cause: cause}
	if err := store.InsertFailedExecution(ctx, tx, jobID, jf.Error()); err != nil {
		return err
	}
	if err := store.DeleteClaimedExecution(ctx, tx, jobID); err != nil {
		return err
	}

	job, err := store.GetJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.ConcurrencyKey == nil {
		return nil
	}
	return concurrency.Release(ctx, tx, *job.ConcurrencyKey)
}

// Retry resets a failed Job back into the front of the state machine: the
// FailedExecution is deleted and the Job is re-run through the same
// admission path Enqueue uses (spec §4.1 "failed -> retry action").
func Retry(ctx context.Context, tx pgx.Tx, failedExecutionID uuid.UUID) error {
	fe, err := store.GetFailedExecution(ctx, tx, failedExecutionID)
	if err != nil {
		return err
	}
	job, err := store.GetJob(ctx, tx, fe.JobID)
	if err != nil {
		return err
	}
	if err := store.DeleteFailedExecution(ctx, tx, job.ID); err != nil {
		return err
	}
	if job.ScheduledAt != nil && job.ScheduledAt.After(time.Now()) {
		return store.InsertScheduledExecution(ctx, tx, job.ID, job.QueueName, job.Priority, *job.ScheduledAt)
	}
	return admitOrBlock(ctx, tx, job, job.QueueName, job.Priority)
}

// Discard permanently drops a failed Job: deletes the FailedExecution and
// the Job row itself, with no further retry possible (SPEC_FULL.md §4
// supplemented feature).
func Discard(ctx context.Context, tx pgx.Tx, failedExecutionID uuid.UUID) error {
	fe, err := store.GetFailedExecution(ctx, tx, failedExecutionID)
	if err != nil {
		return err
	}
	if err := store.DeleteFailedExecution(ctx, tx, fe.JobID); err != nil {
		return err
	}
	return store.DeleteJob(ctx, tx, fe.JobID)
}
