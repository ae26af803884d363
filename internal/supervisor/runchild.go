package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"oss.nandlabs.io/golly/lifecycle"

	"github.com/civic-os/pgqueue/internal/dispatcher"
	"github.com/civic-os/pgqueue/internal/registry"
	"github.com/civic-os/pgqueue/internal/scheduler"
	"github.com/civic-os/pgqueue/internal/store"
	"github.com/civic-os/pgqueue/internal/worker"
)

// IsChild reports whether the current process was re-exec'd by a
// supervisor to run one child runnable, per the childEnvelopeEnv
// convention.
func IsChild() bool {
	_, ok := os.LookupEnv(childEnvelopeEnv)
	return ok
}

// RunChild decodes this process's envelope and runs the corresponding
// runnable (worker, dispatcher, or scheduler) until ctx is cancelled. reg
// must already hold every job class the host application registers at
// startup — the re-exec'd child runs the same main() as the supervisor,
// so registration via init()/main() top-of-function code happens
// identically in both (spec §6 "module discovery").
func RunChild(ctx context.Context, reg *registry.Registry) error {
	raw, ok := os.LookupEnv(childEnvelopeEnv)
	if !ok {
		return fmt.Errorf("pgqueue: RunChild called without %s set", childEnvelopeEnv)
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, store.Config{
		DatabaseURL: env.DatabaseURL,
		MaxConns:    int32(env.DBMaxConns),
		MinConns:    int32(env.DBMinConns),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	supervisorID := env.SupervisorID

	var comp lifecycle.Component
	switch env.Kind {
	case childKindWorker:
		w := worker.New(worker.Config{
			Name:                 env.Name,
			Queues:               env.Worker.Queues,
			StaticQueues:         env.StaticQueues,
			Threads:              env.Worker.Threads,
			PollingInterval:      time.Duration(env.Worker.PollingInterval),
			HeartbeatInterval:    env.ProcessHeartbeatInterval,
			PreserveFinishedJobs: env.PreserveFinishedJobs,
			SupervisorID:         &supervisorID,
		}, s, reg)
		comp = w.Component()

	case childKindDispatcher:
		d := dispatcher.New(dispatcher.Config{
			Name:                           env.Name,
			PollingInterval:                time.Duration(env.Dispatcher.PollingInterval),
			BatchSize:                      env.Dispatcher.BatchSize,
			ConcurrencyMaintenance:         env.Dispatcher.ConcurrencyMaintenance,
			ConcurrencyMaintenanceInterval: time.Duration(env.Dispatcher.ConcurrencyMaintenanceInterval),
			HeartbeatInterval:              env.ProcessHeartbeatInterval,
			SupervisorID:                   &supervisorID,
		}, s)
		comp = d.Component()

	case childKindScheduler:
		tasks := make([]scheduler.TaskConfig, 0, len(env.Scheduler.RecurringTasks))
		for _, t := range env.Scheduler.RecurringTasks {
			tasks = append(tasks, scheduler.TaskConfig{
				Key: t.Key, ClassName: t.ClassName, Arguments: []byte(t.Arguments),
				Schedule: t.Schedule, QueueName: t.QueueName, Priority: t.Priority, Description: t.Description,
			})
		}
		sc := scheduler.New(scheduler.Config{
			Name:              env.Name,
			Tasks:             tasks,
			HeartbeatInterval: env.ProcessHeartbeatInterval,
			MaxSleep:          time.Minute,
			SupervisorID:      &supervisorID,
		}, s)
		comp = sc.Component()

	default:
		return fmt.Errorf("pgqueue: unknown child kind %q", env.Kind)
	}

	mgr := lifecycle.NewSimpleComponentManager()
	mgr.Register(comp)
	if err := mgr.Start(comp.Id()); err != nil {
		return err
	}
	<-ctx.Done()
	return mgr.Stop(comp.Id())
}
