package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/model"
)

// UpsertStaticRecurringTask reconciles one config-declared task by key
// (spec §4.7 "reconcile ... bulk upsert by key").
func UpsertStaticRecurringTask(ctx context.Context, q Querier, t model.RecurringTask) (model.RecurringTask, error) {
	var out model.RecurringTask
	err := q.QueryRow(ctx, `
		INSERT INTO pgqueue_recurring_tasks (key, schedule, class_name, arguments, queue_name, priority, static, description)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		ON CONFLICT (key) DO UPDATE SET
			schedule = EXCLUDED.schedule,
			class_name = EXCLUDED.class_name,
			arguments = EXCLUDED.arguments,
			queue_name = EXCLUDED.queue_name,
			priority = EXCLUDED.priority,
			description = EXCLUDED.description,
			updated_at = now()
		RETURNING id, key, schedule, class_name, arguments, queue_name, priority, static, description, created_at, updated_at
	`, t.Key, t.Schedule, t.ClassName, t.Arguments, t.QueueName, t.Priority, t.Description).Scan(
		&out.ID, &out.Key, &out.Schedule, &out.ClassName, &out.Arguments, &out.QueueName,
		&out.Priority, &out.Static, &out.Description, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

// DeleteStaticRecurringTasksNotIn removes static=true rows whose key isn't
// in keep — SPEC_FULL.md §4's "a task removed from config stops firing".
// Dynamic (static=false) rows are never touched here.
func DeleteStaticRecurringTasksNotIn(ctx context.Context, q Querier, keep []string) (int, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM pgqueue_recurring_tasks WHERE static = true AND NOT (key = ANY($1))
	`, keep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListRecurringTasks returns every configured recurring task.
func ListRecurringTasks(ctx context.Context, q Querier) ([]model.RecurringTask, error) {
	rows, err := q.Query(ctx, `
		SELECT id, key, schedule, class_name, arguments, queue_name, priority, static, description, created_at, updated_at
		FROM pgqueue_recurring_tasks
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RecurringTask
	for rows.Next() {
		var t model.RecurringTask
		if err := rows.Scan(&t.ID, &t.Key, &t.Schedule, &t.ClassName, &t.Arguments, &t.QueueName,
			&t.Priority, &t.Static, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertRecurringExecution inserts the (task_key, run_at) marker alongside
// the Job it caused, relying on the unique constraint for cross-scheduler
// exactly-once enqueue (spec §4.7). A unique-violation here means another
// scheduler won the race; the caller treats that as expected contention,
// not an error to propagate (spec §8 S6).
func InsertRecurringExecution(ctx context.Context, q Querier, taskKey string, jobID uuid.UUID, runAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pgqueue_recurring_executions (task_key, job_id, run_at) VALUES ($1, $2, $3)
	`, taskKey, jobID, runAt)
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal the scheduler swallows per spec §4.7/§8 S6.
func IsUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	for err != nil {
		if pe, ok := err.(interface{ SQLState() string }); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CountRecurringExecutions is a test/observability helper (spec §8 S6,
// S8: "N RecurringExecution rows for that key").
func CountRecurringExecutions(ctx context.Context, q Querier, taskKey string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT count(*) FROM pgqueue_recurring_executions WHERE task_key = $1`, taskKey).Scan(&n)
	return n, err
}
