// Package process implements the registry/heartbeat/pruning protocol of
// spec §4.5: a live runnable registers a Process row, refreshes it on a
// timer, and is released (its claims requeued) the moment that row goes
// away, whether by explicit deregistration or by another process's prune
// sweep.
package process

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/queueerrors"
	"github.com/civic-os/pgqueue/internal/store"
)

// Handle is a runnable's live binding to its own Process row. A Handle
// whose local reference has been cleared (the row was pruned out from
// under it) answers IsRegistered() == false and every subsequent
// Heartbeat call is a no-op, per spec §4.5 invariant 9.
type Handle struct {
	mu   sync.Mutex
	id   *uuid.UUID
	name string
	kind model.ProcessKind
}

// Register inserts a Process row for the calling runnable and returns a
// Handle bound to it.
func Register(ctx context.Context, s *store.Store, name string, kind model.ProcessKind, supervisorID *uuid.UUID, metadata []byte) (*Handle, error) {
	hostname, _ := os.Hostname()
	p, err := store.RegisterProcess(ctx, s.Pool, name, kind, os.Getpid(), hostname, supervisorID, metadata)
	if err != nil {
		return nil, err
	}
	id := p.ID
	return &Handle{id: &id, name: name, kind: kind}, nil
}

// ID returns the bound process id, or uuid.Nil if the local reference has
// been cleared.
func (h *Handle) ID() uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.id == nil {
		return uuid.Nil
	}
	return *h.id
}

// IsRegistered reports whether this Handle still believes it owns a live
// Process row.
func (h *Handle) IsRegistered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id != nil
}

// Heartbeat refreshes last_heartbeat_at. If the row is gone, it clears the
// local reference so the owning runnable observes IsRegistered() == false
// and proceeds to shut down cleanly (spec §4.5). A Handle with an already
// null reference is a no-op, never an error.
func (h *Handle) Heartbeat(ctx context.Context, s *store.Store) error {
	h.mu.Lock()
	id := h.id
	h.mu.Unlock()
	if id == nil {
		return nil
	}

	alive, err := store.Heartbeat(ctx, s.Pool, *id)
	if err != nil {
		return err
	}
	if !alive {
		h.mu.Lock()
		h.id = nil
		h.mu.Unlock()
	}
	return nil
}

// Deregister releases every ClaimedExecution this process owns back to
// ReadyExecution, then deletes the Process row, all in one transaction —
// spec §4.5's "Deregistration ordering". Safe to call on an
// already-cleared Handle (no-op).
func Deregister(ctx context.Context, s *store.Store, h *Handle) error {
	h.mu.Lock()
	id := h.id
	h.mu.Unlock()
	if id == nil {
		return nil
	}

	err := s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := store.ReleaseClaimedByProcess(ctx, tx, *id); err != nil {
			return err
		}
		return store.DeregisterProcess(ctx, tx, *id)
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.id = nil
	h.mu.Unlock()
	return nil
}

// Prune sweeps processes whose heartbeat predates cutoff, excluding self,
// handling at most batchSize of them per call. For each prunable process it fails every
// ClaimedExecution it holds with a ProcessPrunedError, cascades to its
// supervisees (a pruned supervisor takes its children with it, spec
// §4.5), and deregisters it. Safe to call with a zero self id (prune
// everything stale). Returns the count of processes pruned.
func Prune(ctx context.Context, s *store.Store, cutoff time.Time, self uuid.UUID, batchSize int) (int, error) {
	stale, err := store.StaleProcesses(ctx, s.Pool, cutoff, self, batchSize)
	if err != nil {
		return 0, err
	}

	pruned := 0
	var failures []error
	for _, p := range stale {
		if err := pruneOne(ctx, s, p); err != nil {
			failures = append(failures, fmt.Errorf("pruning process %q: %w", p.Name, err))
			continue
		}
		pruned++
	}
	return pruned, queueerrors.NewAggregate(failures...)
}

func pruneOne(ctx context.Context, s *store.Store, p model.Process) error {
	if p.Kind == model.ProcessKindSupervisor {
		supervisees, err := store.Supervisees(ctx, s.Pool, p.ID)
		if err != nil {
			return err
		}
		for _, child := range supervisees {
			if err := pruneOne(ctx, s, child); err != nil {
				return err
			}
		}
	}

	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		claims, err := store.ClaimedExecutionsByProcess(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		for _, c := range claims {
			cause := &queueerrors.ProcessPrunedError{ProcessName: p.Name}
			if err := store.InsertFailedExecution(ctx, tx, c.JobID, cause.Error()); err != nil {
				return err
			}
			if err := store.DeleteClaimedExecution(ctx, tx, c.JobID); err != nil {
				return err
			}
		}
		return store.DeregisterProcess(ctx, tx, p.ID)
	})
}

// ReapOrphaned fails ClaimedExecutions whose process_id is already NULL
// (the owning Process row vanished without the deregistration hook
// running) with a ProcessMissingError, per spec §7. Intended to be called
// alongside Prune from the same periodic maintenance task.
func ReapOrphaned(ctx context.Context, s *store.Store, batchSize int) (int, error) {
	reaped := 0
	err := s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		orphans, err := store.OrphanedClaimedExecutions(ctx, tx, batchSize)
		if err != nil {
			return err
		}
		for _, c := range orphans {
			cause := &queueerrors.ProcessMissingError{}
			if err := store.InsertFailedExecution(ctx, tx, c.JobID, cause.Error()); err != nil {
				return err
			}
			if err := store.DeleteClaimedExecution(ctx, tx, c.JobID); err != nil {
				return err
			}
			reaped++
		}
		return nil
	})
	return reaped, err
}
