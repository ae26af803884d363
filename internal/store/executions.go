package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/model"
)

// InsertScheduledExecution parks a job awaiting its ScheduledAt.
func InsertScheduledExecution(ctx context.Context, q Querier, jobID uuid.UUID, queueName string, priority int, scheduledAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pgqueue_scheduled_executions (job_id, queue_name, priority, scheduled_at)
		VALUES ($1, $2, $3, $4)
	`, jobID, queueName, priority, scheduledAt)
	return err
}

// DeleteScheduledExecution removes the sibling row, if any (no-op if
// absent), so the state machine can insert the next sibling afterward.
func DeleteScheduledExecution(ctx context.Context, q Querier, jobID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_scheduled_executions WHERE job_id = $1`, jobID)
	return err
}

// DueScheduledExecutions locks and returns up to limit ScheduledExecution
// rows whose scheduled_at has arrived, ordered (priority, job_id) as spec
// §3's index implies, under FOR UPDATE SKIP LOCKED so concurrent
// dispatchers never double-promote the same row.
func DueScheduledExecutions(ctx context.Context, q Querier, now time.Time, limit int) ([]model.ScheduledExecution, error) {
	rows, err := q.Query(ctx, `
		SELECT id, job_id, queue_name, priority, scheduled_at, created_at
		FROM pgqueue_scheduled_executions
		WHERE scheduled_at <= $1
		ORDER BY priority ASC, job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledExecution
	for rows.Next() {
		var se model.ScheduledExecution
		if err := rows.Scan(&se.ID, &se.JobID, &se.QueueName, &se.Priority, &se.ScheduledAt, &se.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// InsertReadyExecution admits a job for claiming.
func InsertReadyExecution(ctx context.Context, q Querier, jobID uuid.UUID, queueName string, priority int) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pgqueue_ready_executions (job_id, queue_name, priority)
		VALUES ($1, $2, $3)
	`, jobID, queueName, priority)
	return err
}

// DeleteReadyExecution removes the sibling row, if any.
func DeleteReadyExecution(ctx context.Context, q Querier, jobID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_ready_executions WHERE job_id = $1`, jobID)
	return err
}

// ClaimReady is the core of spec §4.3: lock up to limit ReadyExecution
// rows for one queue under FOR UPDATE SKIP LOCKED, insert matching
// ClaimedExecution rows owned by processID, and delete the locked
// ReadyExecution rows — all within the same transaction so a
// ReadyExecution and a ClaimedExecution for the same job_id never coexist
// after commit. Returns the inserted ClaimedExecution rows (id, job_id,
// process_id, created_at); the caller looks the Jobs up by job_id.
func ClaimReady(ctx context.Context, q Querier, processID uuid.UUID, queueName string, limit int) ([]model.ClaimedExecution, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		WITH candidates AS (
			SELECT id, job_id
			FROM pgqueue_ready_executions
			WHERE queue_name = $1
			ORDER BY priority ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		),
		deleted AS (
			DELETE FROM pgqueue_ready_executions
			WHERE id IN (SELECT id FROM candidates)
			RETURNING job_id
		)
		INSERT INTO pgqueue_claimed_executions (job_id, process_id)
		SELECT job_id, $3 FROM deleted
		RETURNING id, job_id, process_id, created_at
	`, queueName, limit, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClaimedExecution
	for rows.Next() {
		var ce model.ClaimedExecution
		if err := rows.Scan(&ce.ID, &ce.JobID, &ce.ProcessID, &ce.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ce)
	}
	return out, rows.Err()
}

// DeleteClaimedExecution removes the sibling row, if any.
func DeleteClaimedExecution(ctx context.Context, q Querier, jobID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_claimed_executions WHERE job_id = $1`, jobID)
	return err
}

// ReleaseClaimedByProcess converts every ClaimedExecution owned by
// processID back into a ReadyExecution, used when a Process deregisters
// cleanly (spec §4.5 "Deregistration ordering"); pruning does not use it,
// it fails a stale process's claims instead. It reads the
// queue_name/priority off the Job row since ClaimedExecution itself
// doesn't carry them.
func ReleaseClaimedByProcess(ctx context.Context, q Querier, processID uuid.UUID) (int, error) {
	tag, err := q.Exec(ctx, `
		WITH claimed AS (
			DELETE FROM pgqueue_claimed_executions
			WHERE process_id = $1
			RETURNING job_id
		)
		INSERT INTO pgqueue_ready_executions (job_id, queue_name, priority)
		SELECT j.id, j.queue_name, j.priority
		FROM pgqueue_jobs j
		JOIN claimed c ON c.job_id = j.id
	`, processID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ClaimedExecutionsByProcess lists a process's in-flight claims, used by
// pruning to fail them individually with a ProcessPrunedError record.
func ClaimedExecutionsByProcess(ctx context.Context, q Querier, processID uuid.UUID) ([]model.ClaimedExecution, error) {
	rows, err := q.Query(ctx, `
		SELECT id, job_id, process_id, created_at FROM pgqueue_claimed_executions WHERE process_id = $1
	`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ClaimedExecution
	for rows.Next() {
		var ce model.ClaimedExecution
		if err := rows.Scan(&ce.ID, &ce.JobID, &ce.ProcessID, &ce.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ce)
	}
	return out, rows.Err()
}

// OrphanedClaimedExecutions returns claims whose process_id is already
// NULL (the owning Process row was deleted without the before-delete hook
// running — e.g. a manual row deletion), for maintenance to fail with
// ProcessMissingError.
func OrphanedClaimedExecutions(ctx context.Context, q Querier, limit int) ([]model.ClaimedExecution, error) {
	rows, err := q.Query(ctx, `
		SELECT id, job_id, process_id, created_at
		FROM pgqueue_claimed_executions
		WHERE process_id IS NULL
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ClaimedExecution
	for rows.Next() {
		var ce model.ClaimedExecution
		if err := rows.Scan(&ce.ID, &ce.JobID, &ce.ProcessID, &ce.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ce)
	}
	return out, rows.Err()
}

// InsertBlockedExecution parks a job denied admission.
func InsertBlockedExecution(ctx context.Context, q Querier, jobID uuid.UUID, queueName string, priority int, concurrencyKey string, expiresAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pgqueue_blocked_executions (job_id, queue_name, priority, concurrency_key, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, jobID, queueName, priority, concurrencyKey, expiresAt)
	return err
}

// DeleteBlockedExecution removes the sibling row, if any.
func DeleteBlockedExecution(ctx context.Context, q Querier, jobID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_blocked_executions WHERE job_id = $1`, jobID)
	return err
}

// LowestBlockedForKey returns the best BlockedExecution to promote for a
// concurrency key — lowest (priority, job_id), per spec §4.6 — locked so
// concurrent releases never promote the same row twice.
func LowestBlockedForKey(ctx context.Context, q Querier, concurrencyKey string) (*model.BlockedExecution, error) {
	var be model.BlockedExecution
	err := q.QueryRow(ctx, `
		SELECT id, job_id, queue_name, priority, concurrency_key, expires_at, created_at
		FROM pgqueue_blocked_executions
		WHERE concurrency_key = $1
		ORDER BY priority ASC, job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, concurrencyKey).Scan(&be.ID, &be.JobID, &be.QueueName, &be.Priority, &be.ConcurrencyKey, &be.ExpiresAt, &be.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &be, nil
}

// ExpiredBlockedExecutions returns blocked rows whose lease has expired
// regardless of semaphore value — the safety net spec §4.6 "Expiration"
// describes for leaked permits.
func ExpiredBlockedExecutions(ctx context.Context, q Querier, now time.Time, limit int) ([]model.BlockedExecution, error) {
	rows, err := q.Query(ctx, `
		SELECT id, job_id, queue_name, priority, concurrency_key, expires_at, created_at
		FROM pgqueue_blocked_executions
		WHERE expires_at < $1
		ORDER BY priority ASC, job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BlockedExecution
	for rows.Next() {
		var be model.BlockedExecution
		if err := rows.Scan(&be.ID, &be.JobID, &be.QueueName, &be.Priority, &be.ConcurrencyKey, &be.ExpiresAt, &be.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, be)
	}
	return out, rows.Err()
}

// InsertFailedExecution records a terminal failure.
func InsertFailedExecution(ctx context.Context, q Querier, jobID uuid.UUID, errText string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pgqueue_failed_executions (job_id, error) VALUES ($1, $2)
	`, jobID, errText)
	return err
}

// GetFailedExecution fetches one by id.
func GetFailedExecution(ctx context.Context, q Querier, id uuid.UUID) (model.FailedExecution, error) {
	var fe model.FailedExecution
	err := q.QueryRow(ctx, `
		SELECT id, job_id, error, created_at FROM pgqueue_failed_executions WHERE id = $1
	`, id).Scan(&fe.ID, &fe.JobID, &fe.Error, &fe.CreatedAt)
	return fe, err
}

// DeleteFailedExecution removes the sibling row.
func DeleteFailedExecution(ctx context.Context, q Querier, jobID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_failed_executions WHERE job_id = $1`, jobID)
	return err
}
