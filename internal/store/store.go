// Package store is pgqueue's only gateway to Postgres. Every state
// transition in the job state machine (spec §4.1) is a transaction this
// package runs; callers above it (internal/queue, internal/concurrency,
// internal/process, internal/scheduler) never see a *pgx.Conn directly.
//
// Grounded on consolidated-worker-go's direct use of pgx/v5 + pgxpool
// throughout (main.go's pool construction, scheduled_jobs_worker.go's raw
// SQL with ON CONFLICT ... DO NOTHING for idempotent inserts).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgxpool.Pool and runs every mutation inside an explicit
// transaction, matching spec §5's rule that all serialized state
// transitions run inside a single database transaction.
type Store struct {
	Pool *pgxpool.Pool
}

// Config mirrors the pool tuning consolidated-worker-go/main.go applies
// explicitly rather than trusting pgxpool's default of 4*NumCPU
// connections.
type Config struct {
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
}

// Open establishes the pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgqueue: parsing database url: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "pgqueue"
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgqueue: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgqueue: pinging database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.Pool.Close() }

// WithTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. Every claim/dispatch/prune/release path in
// pgqueue goes through this so "delete sibling row, insert next sibling
// row, update Job" always happens atomically (spec §4.1).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgqueue: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgqueue: committing transaction: %w", err)
	}
	return nil
}

// Querier is satisfied by both pgxpool.Pool and pgx.Tx, letting query
// helpers below run either inside WithTx or directly against the pool for
// read-only paths.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
