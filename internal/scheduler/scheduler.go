// Package scheduler implements the Scheduler runnable of spec §4.7:
// reconciles static RecurringTask configuration at boot, then fires due
// tasks, relying on the `(task_key, run_at)` unique constraint for
// exactly-once enqueue across concurrently running schedulers.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"oss.nandlabs.io/golly/lifecycle"

	"github.com/civic-os/pgqueue/internal/logging"
	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/queue"
	"github.com/civic-os/pgqueue/internal/runnable"
	"github.com/civic-os/pgqueue/internal/store"
)

// TaskConfig is one statically-configured recurring task (spec §6
// "Per-recurring-task").
type TaskConfig struct {
	Key         string
	ClassName   string
	Arguments   json.RawMessage
	Schedule    string
	QueueName   string
	Priority    int
	Description string
}

// Config describes the scheduler process.
type Config struct {
	Name              string
	Tasks             []TaskConfig
	HeartbeatInterval time.Duration
	MaxSleep          time.Duration
	SupervisorID      *uuid.UUID
}

// Scheduler runs the reconcile-then-fire poll loop.
type Scheduler struct {
	cfg    Config
	store  *store.Store
	log    *slog.Logger
	poller *runnable.Poller

	schedules map[string]Schedule
	nextRunAt map[string]time.Time
}

// New builds a Scheduler bound to store, ready to Run.
func New(cfg Config, s *store.Store) *Scheduler {
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = time.Minute
	}
	sc := &Scheduler{cfg: cfg, store: s, log: logging.New(model.ProcessKindScheduler, cfg.Name)}
	sc.poller = &runnable.Poller{
		Name:           cfg.Name,
		Kind:           model.ProcessKindScheduler,
		SupervisorID:   cfg.SupervisorID,
		HeartbeatEvery: cfg.HeartbeatInterval,
		Store:          s,
		Poll:           sc.poll,
		OnPollError:    func(err error) { sc.log.Error("poll failed", "error", err) },
	}
	return sc
}

// Run reconciles configuration, then blocks running the fire loop until
// ctx is cancelled.
func (sc *Scheduler) Run(ctx context.Context) error {
	if err := sc.reconcile(ctx); err != nil {
		return err
	}
	return sc.poller.Run(ctx)
}

// Stop requests a graceful shutdown.
func (sc *Scheduler) Stop() { sc.poller.Stop() }

// Component wraps Run/Stop as a lifecycle.Component so internal/supervisor
// can drive the scheduler through a golly ComponentManager.
func (sc *Scheduler) Component() lifecycle.Component {
	return runnable.AsComponent(sc.cfg.Name, sc.Run, sc.Stop)
}

// reconcile bulk-upserts the configured static tasks by key and deletes
// static rows no longer present in configuration (SPEC_FULL.md §4 "a task
// removed from config stops firing"), then parses every task's schedule
// once up front.
func (sc *Scheduler) reconcile(ctx context.Context) error {
	keys := make([]string, 0, len(sc.cfg.Tasks))
	sc.schedules = make(map[string]Schedule, len(sc.cfg.Tasks))
	sc.nextRunAt = make(map[string]time.Time, len(sc.cfg.Tasks))

	now := time.Now()
	for _, t := range sc.cfg.Tasks {
		args := t.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}
		row := model.RecurringTask{
			Key: t.Key, Schedule: t.Schedule, ClassName: t.ClassName,
			Arguments: args, QueueName: t.QueueName, Priority: t.Priority, Description: t.Description,
		}
		if _, err := store.UpsertStaticRecurringTask(ctx, sc.store.Pool, row); err != nil {
			return err
		}
		sched, err := ParseSchedule(t.Schedule)
		if err != nil {
			return err
		}
		sc.schedules[t.Key] = sched
		nextRun, err := sched.Next(now)
		if err != nil {
			return err
		}
		sc.nextRunAt[t.Key] = nextRun
		keys = append(keys, t.Key)
	}

	_, err := store.DeleteStaticRecurringTasksNotIn(ctx, sc.store.Pool, keys)
	return err
}

// poll fires every task whose next_run_at has arrived and returns a sleep
// duration capped at MaxSleep (spec §4.7 "sleep interval equal to
// min(next_run_at_across_tasks - now(), cap)"). Due-ness is tracked via a
// per-task next_run_at carried forward across polls (seeded at reconcile,
// advanced to sched.Next(run_at) after each fire) rather than re-derived
// from sched.Next(now - epsilon): the latter is unreliable because
// robfig/cron's Next rounds its argument up to the next whole second, so a
// timer that fires a few microseconds after the boundary (as all real
// timers do) sees Next(now-epsilon) already past the boundary it should
// have matched and jumps straight to the following occurrence.
func (sc *Scheduler) poll(ctx context.Context) (time.Duration, error) {
	now := time.Now()
	soonest := sc.cfg.MaxSleep

	for _, t := range sc.cfg.Tasks {
		sched := sc.schedules[t.Key]
		due := sc.nextRunAt[t.Key]

		for !due.After(now) {
			if err := sc.fire(ctx, t, due); err != nil {
				sc.log.Error("firing recurring task", "task_key", t.Key, "error", err)
				break
			}
			next, err := sched.Next(due)
			if err != nil {
				sc.log.Error("computing next run", "task_key", t.Key, "error", err)
				break
			}
			due = next
		}
		sc.nextRunAt[t.Key] = due

		if d := due.Sub(now); d < soonest {
			soonest = d
		}
	}

	if soonest <= 0 {
		return time.Millisecond, nil
	}
	return soonest, nil
}

// fire enqueues the task's job and inserts the RecurringExecution marker
// inside a savepoint; a unique-violation on (task_key, run_at) means a
// concurrent scheduler already won this slot, so the savepoint (both the
// Enqueue and the marker insert) is rolled back and swallowed as expected
// contention rather than an error (spec §4.7, §8 S6). A savepoint is
// required here rather than checking the outer transaction's error,
// because Postgres aborts the whole transaction on a constraint
// violation — without one, the Job this scheduler enqueued would vanish
// along with a spurious error even though the overall outcome (no-op) is
// exactly what's intended.
func (sc *Scheduler) fire(ctx context.Context, t TaskConfig, runAt time.Time) error {
	return sc.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		savepoint, err := tx.Begin(ctx)
		if err != nil {
			return err
		}

		job, err := queue.Enqueue(ctx, savepoint, store.JobAttributes{
			QueueName: t.QueueName,
			ClassName: t.ClassName,
			Arguments: t.Arguments,
			Priority:  t.Priority,
		})
		if err == nil {
			err = store.InsertRecurringExecution(ctx, savepoint, t.Key, job.ID, runAt)
		}
		if err != nil {
			_ = savepoint.Rollback(ctx)
			if store.IsUniqueViolation(err) {
				return nil
			}
			return err
		}
		return savepoint.Commit(ctx)
	})
}
