// Package pgqueue is the embedding interface host applications use to
// enqueue jobs, register recurring tasks and job callables, and boot the
// supervisor fleet (spec §6 "Embedding interface").
package pgqueue

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civic-os/pgqueue/internal/config"
	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/queue"
	"github.com/civic-os/pgqueue/internal/queueerrors"
	"github.com/civic-os/pgqueue/internal/registry"
	"github.com/civic-os/pgqueue/internal/store"
	"github.com/civic-os/pgqueue/internal/supervisor"
)

// Job is the persisted row a caller gets back from Enqueue.
type Job = model.Job

// Execute is the user-supplied callable for one job class (spec §6
// "execute(job_data) -> ()").
type Execute = registry.Execute

// TaskDescriptor supplies what the host hands over to Enqueue (spec §6).
type TaskDescriptor struct {
	ClassName      string
	QueueName      string
	Priority       int
	Arguments      json.RawMessage
	ScheduledAt    *time.Time
	ConcurrencyKey *string
	ConcurrencyLim *int
	ConcurrencyDur *time.Duration
	ConcurrencyGrp *string
	ExternalTaskID *string
}

// RecurringTaskDescriptor is what register_recurring_task accepts (spec
// §6, §4.7).
type RecurringTaskDescriptor struct {
	Key         string
	ClassName   string
	Arguments   json.RawMessage
	Schedule    string
	QueueName   string
	Priority    int
	Description string
}

// Queue is a running pgqueue instance: a connection pool, a job-class
// registry, and the static recurring-task set collected before Start.
type Queue struct {
	store     *store.Store
	registry  *registry.Registry
	recurring []RecurringTaskDescriptor
	cfg       config.Configuration
}

// Open connects to Postgres and loads the supervisor configuration from
// configPath (empty for defaults-plus-env-only).
func Open(ctx context.Context, configPath string) (*Queue, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, store.Config{DatabaseURL: cfg.DatabaseURL, MaxConns: int32(cfg.DBMaxConns), MinConns: int32(cfg.DBMinConns)})
	if err != nil {
		return nil, err
	}
	return &Queue{store: s, registry: registry.New(), cfg: cfg}, nil
}

// Close releases the underlying connection pool.
func (q *Queue) Close() { q.store.Close() }

// RegisterJobClass binds class_name to a callable — module discovery
// calls this during the host's own startup (spec §6 "Callable
// resolution").
func (q *Queue) RegisterJobClass(className string, fn Execute) {
	q.registry.Register(className, fn)
}

// RegisterRecurringTask adds a statically-configured recurring task,
// collected for the scheduler to reconcile on Start (spec §6
// "register_recurring_task(config)").
func (q *Queue) RegisterRecurringTask(t RecurringTaskDescriptor) {
	q.recurring = append(q.recurring, t)
}

// Enqueue hands a job over to the core (spec §6 "enqueue(task_descriptor)
// -> Job").
func (q *Queue) Enqueue(ctx context.Context, t TaskDescriptor) (Job, error) {
	attrs := store.JobAttributes{
		QueueName:      t.QueueName,
		ClassName:      t.ClassName,
		Arguments:      t.Arguments,
		Priority:       t.Priority,
		ScheduledAt:    t.ScheduledAt,
		ConcurrencyKey: t.ConcurrencyKey,
		ConcurrencyLim: t.ConcurrencyLim,
		ConcurrencyDur: t.ConcurrencyDur,
		ConcurrencyGrp: t.ConcurrencyGrp,
		ExternalTaskID: t.ExternalTaskID,
	}

	var result Job
	err := q.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		job, err := queue.Enqueue(ctx, tx, attrs)
		if err != nil {
			return err
		}
		result = job
		return nil
	})
	return result, err
}

// Start boots the supervisor in the current process and blocks until ctx
// is cancelled or a termination signal is handled (spec §6 "start"). If
// this process was re-exec'd by a supervisor to run a single child
// runnable, it runs that child instead and returns when it exits.
func (q *Queue) Start(ctx context.Context) error {
	if supervisor.IsChild() {
		return supervisor.RunChild(ctx, q.registry)
	}

	if len(q.recurring) > 0 {
		tasks := make([]config.RecurringTaskConfig, 0, len(q.recurring))
		for _, t := range q.recurring {
			tasks = append(tasks, config.RecurringTaskConfig{
				Key: t.Key, ClassName: t.ClassName, Arguments: string(t.Arguments),
				Schedule: t.Schedule, QueueName: t.QueueName, Priority: t.Priority, Description: t.Description,
			})
		}
		if q.cfg.Scheduler == nil {
			q.cfg.Scheduler = &config.SchedulerConfig{}
		}
		q.cfg.Scheduler.RecurringTasks = append(q.cfg.Scheduler.RecurringTasks, tasks...)
	}

	exe, err := os.Executable()
	if err != nil {
		return &queueerrors.ConfigurationError{Reason: err.Error()}
	}
	sv := supervisor.New(q.cfg, q.store, exe)
	return sv.Run(ctx)
}
