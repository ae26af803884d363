package store

import "context"

// PauseQueue excludes queueName from worker claim scopes while it keeps
// accepting enqueues (spec §4.8).
func PauseQueue(ctx context.Context, q Querier, queueName string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pgqueue_pauses (queue_name) VALUES ($1) ON CONFLICT (queue_name) DO NOTHING
	`, queueName)
	return err
}

// UnpauseQueue reverses PauseQueue.
func UnpauseQueue(ctx context.Context, q Querier, queueName string) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_pauses WHERE queue_name = $1`, queueName)
	return err
}

// PausedQueues lists every currently paused queue name.
func PausedQueues(ctx context.Context, q Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, `SELECT queue_name FROM pgqueue_pauses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// DistinctReadyQueues lists every queue name with at least one
// ReadyExecution, used by the "*" pattern in §4.8.
func DistinctReadyQueues(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT DISTINCT queue_name FROM pgqueue_ready_executions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
