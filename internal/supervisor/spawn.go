package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/civic-os/pgqueue/internal/config"
)

// spawnAll builds one childEnvelope per configured replica across every
// worker/dispatcher/scheduler block and spawns each as a re-exec'd OS
// process (spec §4.4 "Spawn each configured child by OS fork (or
// equivalent subprocess)").
func (sv *Supervisor) spawnAll() error {
	var envelopes []childEnvelope

	for wi, wc := range sv.cfg.Workers {
		replicas := wc.Processes
		if replicas <= 0 {
			replicas = 1
		}
		for r := 0; r < replicas; r++ {
			envelopes = append(envelopes, sv.workerEnvelope(wc, wi, r))
		}
	}
	for di, dc := range sv.cfg.Dispatchers {
		envelopes = append(envelopes, sv.dispatcherEnvelope(dc, di))
	}
	if sv.cfg.Scheduler != nil {
		envelopes = append(envelopes, sv.schedulerEnvelope(*sv.cfg.Scheduler))
	}

	for _, env := range envelopes {
		c, err := sv.spawn(env)
		if err != nil {
			return err
		}
		sv.mu.Lock()
		sv.children = append(sv.children, c)
		sv.mu.Unlock()
	}
	return nil
}

func (sv *Supervisor) workerEnvelope(wc config.WorkerConfig, idx, replica int) childEnvelope {
	w := wc
	return childEnvelope{
		Kind:                     childKindWorker,
		Name:                     fmt.Sprintf("worker-%d-%d", idx, replica),
		SupervisorID:             sv.handle.ID(),
		DatabaseURL:              sv.cfg.DatabaseURL,
		DBMaxConns:               sv.cfg.DBMaxConns,
		DBMinConns:               sv.cfg.DBMinConns,
		PreserveFinishedJobs:     sv.cfg.PreserveFinishedJobs,
		ProcessHeartbeatInterval: time.Duration(sv.cfg.ProcessHeartbeatInterval),
		StaticQueues:             sv.staticQueueNames(),
		Worker:                   &w,
	}
}

// staticQueueNames collects every queue name configuration names outright
// rather than by runtime discovery: literal (non-glob) entries from every
// worker's queue list, and the queue_name of every configured recurring
// task. "*" resolution folds these in alongside DistinctReadyQueues so a
// queue with no ReadyExecution rows yet is still part of "all queues known
// to the system" (spec §4.8).
func (sv *Supervisor) staticQueueNames() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || strings.ContainsAny(name, "*") || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, wc := range sv.cfg.Workers {
		for _, q := range wc.Queues {
			add(q)
		}
	}
	if sv.cfg.Scheduler != nil {
		for _, t := range sv.cfg.Scheduler.RecurringTasks {
			add(t.QueueName)
		}
	}
	return out
}

func (sv *Supervisor) dispatcherEnvelope(dc config.DispatcherConfig, idx int) childEnvelope {
	d := dc
	return childEnvelope{
		Kind:                     childKindDispatcher,
		Name:                     fmt.Sprintf("dispatcher-%d", idx),
		SupervisorID:             sv.handle.ID(),
		DatabaseURL:              sv.cfg.DatabaseURL,
		DBMaxConns:               sv.cfg.DBMaxConns,
		DBMinConns:               sv.cfg.DBMinConns,
		PreserveFinishedJobs:     sv.cfg.PreserveFinishedJobs,
		ProcessHeartbeatInterval: time.Duration(sv.cfg.ProcessHeartbeatInterval),
		Dispatcher:               &d,
	}
}

func (sv *Supervisor) schedulerEnvelope(sc config.SchedulerConfig) childEnvelope {
	return childEnvelope{
		Kind:                     childKindScheduler,
		Name:                     "scheduler",
		SupervisorID:             sv.handle.ID(),
		DatabaseURL:              sv.cfg.DatabaseURL,
		DBMaxConns:               sv.cfg.DBMaxConns,
		DBMinConns:               sv.cfg.DBMinConns,
		PreserveFinishedJobs:     sv.cfg.PreserveFinishedJobs,
		ProcessHeartbeatInterval: time.Duration(sv.cfg.ProcessHeartbeatInterval),
		Scheduler:                &sc,
	}
}

// spawn encodes env and re-execs the supervisor's own binary, with the
// supervisor's own command-line arguments and PGQUEUE_CHILD set,
// recording the new OS process.
func (sv *Supervisor) spawn(env childEnvelope) (*child, error) {
	raw, err := encodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(sv.executable, os.Args[1:]...)
	cmd.Env = append(os.Environ(), childEnvelopeEnv+"="+raw)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pgqueue: spawning child %s: %w", env.Name, err)
	}

	sv.log.Info("spawned child", "name", env.Name, "kind", env.Kind, "pid", cmd.Process.Pid)
	return &child{name: env.Name, envelope: env, cmd: cmd, exited: make(chan error, 1)}, nil
}
