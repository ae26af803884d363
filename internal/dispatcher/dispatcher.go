// Package dispatcher implements the Dispatcher runnable of spec §4.1/§4.7:
// batches due ScheduledExecutions into Ready/Blocked, and periodically
// runs concurrency maintenance (promoting expired BlockedExecutions).
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"oss.nandlabs.io/golly/lifecycle"

	"github.com/civic-os/pgqueue/internal/concurrency"
	"github.com/civic-os/pgqueue/internal/logging"
	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/queue"
	"github.com/civic-os/pgqueue/internal/runnable"
	"github.com/civic-os/pgqueue/internal/store"
)

// Config describes one dispatcher process (spec §6 "Per-dispatcher").
type Config struct {
	Name                           string
	PollingInterval                time.Duration
	BatchSize                      int
	ConcurrencyMaintenance         bool
	ConcurrencyMaintenanceInterval time.Duration
	HeartbeatInterval              time.Duration
	SupervisorID                   *uuid.UUID
}

// Dispatcher runs the batch-promotion and concurrency-maintenance poll
// loop.
type Dispatcher struct {
	cfg    Config
	store  *store.Store
	log    *slog.Logger
	poller *runnable.Poller

	lastMaintenance time.Time
}

// New builds a Dispatcher bound to store, ready to Run.
func New(cfg Config, s *store.Store) *Dispatcher {
	d := &Dispatcher{cfg: cfg, store: s, log: logging.New(model.ProcessKindDispatcher, cfg.Name)}
	d.poller = &runnable.Poller{
		Name:           cfg.Name,
		Kind:           model.ProcessKindDispatcher,
		SupervisorID:   cfg.SupervisorID,
		HeartbeatEvery: cfg.HeartbeatInterval,
		Store:          s,
		Poll:           d.poll,
		OnPollError:    func(err error) { d.log.Error("poll failed", "error", err) },
	}
	return d
}

// Run registers the dispatcher and blocks running its poll loop until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error { return d.poller.Run(ctx) }

// Stop requests a graceful shutdown.
func (d *Dispatcher) Stop() { d.poller.Stop() }

// Component wraps Run/Stop as a lifecycle.Component so internal/supervisor
// can drive the dispatcher through a golly ComponentManager.
func (d *Dispatcher) Component() lifecycle.Component {
	return runnable.AsComponent(d.cfg.Name, d.Run, d.Stop)
}

func (d *Dispatcher) poll(ctx context.Context) (time.Duration, error) {
	var dispatched int
	err := d.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		n, err := queue.DispatchDueScheduled(ctx, tx, d.cfg.BatchSize)
		dispatched = n
		return err
	})
	if err != nil {
		return d.cfg.PollingInterval, err
	}

	if d.cfg.ConcurrencyMaintenance && time.Since(d.lastMaintenance) >= d.cfg.ConcurrencyMaintenanceInterval {
		if _, err := concurrency.MaintainExpired(ctx, d.store, d.cfg.BatchSize); err != nil {
			d.log.Error("concurrency maintenance failed", "error", err)
		}
		d.lastMaintenance = time.Now()
	}

	if dispatched == d.cfg.BatchSize {
		// Batch was full: more may be due right now, re-poll immediately to
		// drain the backlog (spec §4.2 "on return of zero duration").
		return 0, nil
	}
	return d.cfg.PollingInterval, nil
}
