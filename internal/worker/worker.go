package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"oss.nandlabs.io/golly/lifecycle"

	"github.com/civic-os/pgqueue/internal/logging"
	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/queue"
	"github.com/civic-os/pgqueue/internal/queuesel"
	"github.com/civic-os/pgqueue/internal/registry"
	"github.com/civic-os/pgqueue/internal/runnable"
	"github.com/civic-os/pgqueue/internal/store"
)

// Config describes one worker process (spec §6 "Per-worker").
type Config struct {
	Name                 string
	Queues               []string
	StaticQueues         []string
	Threads              int
	PollingInterval      time.Duration
	HeartbeatInterval    time.Duration
	PreserveFinishedJobs bool
	SupervisorID         *uuid.UUID
}

// Worker owns a bounded task pool and claims ReadyExecutions for it on
// each poll cycle (spec §4.3).
type Worker struct {
	cfg      Config
	store    *store.Store
	registry *registry.Registry
	log      *slog.Logger
	pool     *pool
	poller   *runnable.Poller
}

// New builds a Worker bound to store and registry, ready to Run.
func New(cfg Config, s *store.Store, reg *registry.Registry) *Worker {
	w := &Worker{
		cfg:      cfg,
		store:    s,
		registry: reg,
		log:      logging.New(model.ProcessKindWorker, cfg.Name),
		pool:     newPool(cfg.Threads),
	}
	w.poller = &runnable.Poller{
		Name:           cfg.Name,
		Kind:           model.ProcessKindWorker,
		SupervisorID:   cfg.SupervisorID,
		HeartbeatEvery: cfg.HeartbeatInterval,
		Store:          s,
		Poll:           w.poll,
		OnPollError:    func(err error) { w.log.Error("poll failed", "error", err) },
	}
	return w
}

// Run registers the worker and blocks running its poll loop until ctx is
// cancelled, waiting for in-flight tasks to drain before returning.
func (w *Worker) Run(ctx context.Context) error {
	err := w.poller.Run(ctx)
	w.pool.wait()
	return err
}

// Stop requests a graceful shutdown; Run returns once the in-flight poll
// and tasks finish.
func (w *Worker) Stop() { w.poller.Stop() }

// Component wraps Run/Stop (not the bare poller) as a lifecycle.Component
// so internal/supervisor can drive the worker through a golly
// ComponentManager without skipping the pool-drain Run performs after the
// poller itself stops.
func (w *Worker) Component() lifecycle.Component {
	return runnable.AsComponent(w.cfg.Name, w.Run, w.Stop)
}

// poll implements spec §4.3's per-cycle contract: size the claim to free
// pool slots, resolve queue scope, claim in one transaction, then submit
// one pool task per claimed execution.
func (w *Worker) poll(ctx context.Context) (time.Duration, error) {
	limit := w.pool.availableSlots()
	if limit == 0 {
		return w.cfg.PollingInterval, nil
	}

	queueNames, err := queuesel.Resolve(ctx, w.store.Pool, w.cfg.Queues, w.cfg.StaticQueues)
	if err != nil {
		return w.cfg.PollingInterval, err
	}
	if len(queueNames) == 0 {
		return w.cfg.PollingInterval, nil
	}

	processID := w.poller.Handle().ID()

	var claimed []model.ClaimedExecution
	err = w.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := queue.Claim(ctx, tx, processID, queueNames, limit)
		if err != nil {
			return err
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return w.cfg.PollingInterval, err
	}

	for _, c := range claimed {
		c := c
		submitErr := w.pool.submit(ctx, func() { w.runOne(context.Background(), c) }, w.poller.WakeUp)
		if submitErr != nil {
			w.log.Error("submitting claimed execution", "job_id", c.JobID, "error", submitErr)
		}
	}

	if w.pool.availableSlots() > 0 {
		return w.cfg.PollingInterval, nil
	}
	return w.cfg.PollingInterval * 30, nil
}

// runOne executes the user callable for one claimed job and commits the
// matching success/failure transition (spec §4.3 step 4).
func (w *Worker) runOne(ctx context.Context, c model.ClaimedExecution) {
	job, err := store.GetJob(ctx, w.store.Pool, c.JobID)
	if err != nil {
		w.log.Error("loading claimed job", "job_id", c.JobID, "error", err)
		return
	}

	execErr := w.execute(ctx, job)
	if execErr == nil {
		if err := w.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return queue.Finish(ctx, tx, job.ID, w.cfg.PreserveFinishedJobs)
		}); err != nil {
			w.log.Error("finishing job", "job_id", job.ID, "error", err)
		}
		return
	}

	w.log.Warn("job failed", "job_id", job.ID, "class_name", job.ClassName, "error", execErr)
	if err := w.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return queue.Fail(ctx, tx, job.ID, execErr)
	}); err != nil {
		w.log.Error("recording job failure", "job_id", job.ID, "error", err)
	}
}

// execute resolves and runs the job's callable. A resolution failure
// (UnknownJobClassError) is itself the execution error — spec §7 treats
// it as a permanent failure with no retry distinction at this layer.
func (w *Worker) execute(ctx context.Context, job model.Job) error {
	fn, err := w.registry.Resolve(job.ClassName)
	if err != nil {
		return err
	}
	return fn(ctx, job.Arguments)
}
