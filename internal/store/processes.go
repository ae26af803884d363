package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/civic-os/pgqueue/internal/model"
)

// RegisterProcess inserts a Process row (spec §4.5 "Registration").
func RegisterProcess(ctx context.Context, q Querier, name string, kind model.ProcessKind, pid int, hostname string, supervisorID *uuid.UUID, metadata []byte) (model.Process, error) {
	if metadata == nil {
		metadata = []byte("{}")
	}
	var p model.Process
	err := q.QueryRow(ctx, `
		INSERT INTO pgqueue_processes (name, kind, pid, hostname, supervisor_id, metadata, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, name, kind, pid, hostname, supervisor_id, metadata, last_heartbeat_at, created_at
	`, name, string(kind), pid, hostname, supervisorID, metadata).Scan(
		&p.ID, &p.Name, &p.Kind, &p.PID, &p.Hostname, &p.SupervisorID, &p.Metadata, &p.LastHeartbeatAt, &p.CreatedAt)
	return p, err
}

// Heartbeat updates last_heartbeat_at. If the row is gone (pruned), rows
// affected is 0 and the caller ((*process.Handle).Heartbeat) clears its
// local reference per spec §4.5.
func Heartbeat(ctx context.Context, q Querier, processID uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE pgqueue_processes SET last_heartbeat_at = now() WHERE id = $1
	`, processID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// StaleProcesses locks and returns processes whose heartbeat predates the
// cutoff, excluding the given id (spec §4.5 "Pruning"; excluding may be
// the zero UUID meaning "exclude nothing").
func StaleProcesses(ctx context.Context, q Querier, cutoff time.Time, excluding uuid.UUID, limit int) ([]model.Process, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, kind, pid, hostname, supervisor_id, metadata, last_heartbeat_at, created_at
		FROM pgqueue_processes
		WHERE last_heartbeat_at < $1 AND id != $2
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, cutoff, excluding, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Process
	for rows.Next() {
		var p model.Process
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.PID, &p.Hostname, &p.SupervisorID, &p.Metadata, &p.LastHeartbeatAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Supervisees returns the direct children of a supervisor process, used to
// cascade deregistration (spec §4.5 "For a supervisor deletion...").
func Supervisees(ctx context.Context, q Querier, supervisorID uuid.UUID) ([]model.Process, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, kind, pid, hostname, supervisor_id, metadata, last_heartbeat_at, created_at
		FROM pgqueue_processes WHERE supervisor_id = $1
	`, supervisorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Process
	for rows.Next() {
		var p model.Process
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.PID, &p.Hostname, &p.SupervisorID, &p.Metadata, &p.LastHeartbeatAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeregisterProcess deletes the Process row. Callers must have already
// released its ClaimedExecutions (internal/process.Deregister does both
// in one transaction, matching spec §4.5's "Deregistration ordering").
func DeregisterProcess(ctx context.Context, q Querier, processID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM pgqueue_processes WHERE id = $1`, processID)
	return err
}
