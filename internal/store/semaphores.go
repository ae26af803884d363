package store

import (
	"context"
	"time"

	"github.com/civic-os/pgqueue/internal/model"
)

// LockOrInitSemaphore creates the semaphore row on first use, seeded at
// limit permits (none consumed yet — the caller's own Acquire decrements
// one afterward if it admits the job), or fetches the current row locked
// for update so the caller can decide admission (spec §4.6 "Acquire").
// group is optional (SPEC_FULL.md §4 "concurrency.group").
func LockOrInitSemaphore(ctx context.Context, q Querier, key string, limit int, group *string) (model.Semaphore, error) {
	var s model.Semaphore
	err := q.QueryRow(ctx, `
		INSERT INTO pgqueue_semaphores (key, value, "limit", "group")
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (key) DO UPDATE SET "limit" = EXCLUDED."limit"
		RETURNING key, value, "limit", "group", expires_at, created_at, updated_at
	`, key, limit, group).Scan(&s.Key, &s.Value, &s.Limit, &s.Group, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Semaphore{}, err
	}
	// Re-select under lock: the upsert above already returns the
	// post-upsert row, but a second transaction racing us on the same key
	// needs FOR UPDATE to serialize the decrement that follows. Take the
	// row lock explicitly.
	err = q.QueryRow(ctx, `
		SELECT key, value, "limit", "group", expires_at, created_at, updated_at
		FROM pgqueue_semaphores WHERE key = $1 FOR UPDATE
	`, key).Scan(&s.Key, &s.Value, &s.Limit, &s.Group, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// DecrementSemaphore consumes one permit and sets the lease expiry.
func DecrementSemaphore(ctx context.Context, q Querier, key string, expiresAt time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE pgqueue_semaphores SET value = value - 1, expires_at = $2, updated_at = now() WHERE key = $1
	`, key, expiresAt)
	return err
}

// IncrementSemaphore returns one permit, capped at limit (spec §4.6
// "Release").
func IncrementSemaphore(ctx context.Context, q Querier, key string) error {
	_, err := q.Exec(ctx, `
		UPDATE pgqueue_semaphores
		SET value = LEAST(value + 1, "limit"), updated_at = now()
		WHERE key = $1
	`, key)
	return err
}

// ListSemaphoresByGroup is the operator-facing query SPEC_FULL.md §4
// describes for the otherwise-unused concurrency.group label.
func ListSemaphoresByGroup(ctx context.Context, q Querier, group string) ([]model.Semaphore, error) {
	rows, err := q.Query(ctx, `
		SELECT key, value, "limit", "group", expires_at, created_at, updated_at
		FROM pgqueue_semaphores WHERE "group" = $1
	`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Semaphore
	for rows.Next() {
		var s model.Semaphore
		if err := rows.Scan(&s.Key, &s.Value, &s.Limit, &s.Group, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
