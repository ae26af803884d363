package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/model"
)

// JobAttributes is what a caller supplies to enqueue a Job (spec §6
// "task_descriptor").
type JobAttributes struct {
	QueueName      string
	ClassName      string
	Arguments      json.RawMessage
	Priority       int
	ScheduledAt    *time.Time
	ConcurrencyKey *string
	ConcurrencyLim *int
	ConcurrencyDur *time.Duration
	ConcurrencyGrp *string
	ExternalTaskID *string
}

// InsertJob inserts the Job row itself; the caller is responsible for
// inserting the matching sibling execution row in the same transaction
// (internal/queue.Enqueue does both).
func InsertJob(ctx context.Context, q Querier, attrs JobAttributes) (model.Job, error) {
	var durMS *int64
	if attrs.ConcurrencyDur != nil {
		ms := attrs.ConcurrencyDur.Milliseconds()
		durMS = &ms
	}
	args := attrs.Arguments
	if args == nil {
		args = json.RawMessage("{}")
	}

	row := q.QueryRow(ctx, `
		INSERT INTO pgqueue_jobs
			(queue_name, class_name, arguments, priority, scheduled_at,
			 concurrency_key, concurrency_limit, concurrency_duration_ms, concurrency_group,
			 external_task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, attrs.QueueName, attrs.ClassName, []byte(args), attrs.Priority, attrs.ScheduledAt,
		attrs.ConcurrencyKey, attrs.ConcurrencyLim, durMS, attrs.ConcurrencyGrp, attrs.ExternalTaskID)

	var job model.Job
	if err := row.Scan(&job.ID, &job.CreatedAt); err != nil {
		return model.Job{}, err
	}
	job.QueueName = attrs.QueueName
	job.ClassName = attrs.ClassName
	job.Arguments = args
	job.Priority = attrs.Priority
	job.ScheduledAt = attrs.ScheduledAt
	job.ConcurrencyKey = attrs.ConcurrencyKey
	job.ConcurrencyLim = attrs.ConcurrencyLim
	job.ConcurrencyDur = attrs.ConcurrencyDur
	job.ConcurrencyGrp = attrs.ConcurrencyGrp
	job.ExternalTaskID = attrs.ExternalTaskID
	return job, nil
}

// MarkJobFinished sets finished_at = now() and returns it.
func MarkJobFinished(ctx context.Context, q Querier, jobID uuid.UUID) (time.Time, error) {
	var finishedAt time.Time
	err := q.QueryRow(ctx, `
		UPDATE pgqueue_jobs SET finished_at = now() WHERE id = $1 RETURNING finished_at
	`, jobID).Scan(&finishedAt)
	return finishedAt, err
}

// DeleteJob removes a Job row outright (used on finish when
// preserve_finished_jobs is false, and by Discard).
func DeleteJob(ctx context.Context, q Querier, jobID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_jobs WHERE id = $1`, jobID)
	return err
}

// DeleteFinishedJobsBefore deletes a batch of finished Jobs older than
// cutoff, returning how many were deleted (internal/retention.Sweep calls
// this in batches with a sleep between, per spec §4.9).
func DeleteFinishedJobsBefore(ctx context.Context, q Querier, cutoff time.Time, batchSize int) (int, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM pgqueue_jobs
		WHERE id IN (
			SELECT id FROM pgqueue_jobs
			WHERE finished_at IS NOT NULL AND finished_at < $1
			ORDER BY finished_at
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// GetJob fetches a Job by id.
func GetJob(ctx context.Context, q Querier, jobID uuid.UUID) (model.Job, error) {
	var job model.Job
	var durMS *int64
	err := q.QueryRow(ctx, `
		SELECT id, queue_name, class_name, arguments, priority, scheduled_at, finished_at,
		       concurrency_key, concurrency_limit, concurrency_duration_ms, concurrency_group,
		       external_task_id, created_at
		FROM pgqueue_jobs WHERE id = $1
	`, jobID).Scan(&job.ID, &job.QueueName, &job.ClassName, &job.Arguments, &job.Priority,
		&job.ScheduledAt, &job.FinishedAt, &job.ConcurrencyKey, &job.ConcurrencyLim, &durMS,
		&job.ConcurrencyGrp, &job.ExternalTaskID, &job.CreatedAt)
	if err != nil {
		return model.Job{}, err
	}
	if durMS != nil {
		d := time.Duration(*durMS) * time.Millisecond
		job.ConcurrencyDur = &d
	}
	return job, nil
}
