// Package supervisor implements the Supervisor runnable of spec §4.4: it
// owns the PID file, spawns the configured worker/dispatcher/scheduler
// fleet as re-exec'd child OS processes, reaps and respawns them, and
// handles signals: TERM/INT stop the fleet gracefully (TERM, then KILL
// after shutdown_timeout), QUIT kills it at once, and HUP is only logged.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/civic-os/pgqueue/internal/config"
	"github.com/civic-os/pgqueue/internal/logging"
	"github.com/civic-os/pgqueue/internal/model"
	"github.com/civic-os/pgqueue/internal/process"
	"github.com/civic-os/pgqueue/internal/queueerrors"
	"github.com/civic-os/pgqueue/internal/retention"
	"github.com/civic-os/pgqueue/internal/store"
)

// child tracks one live re-exec'd OS process and the envelope used to
// respawn it.
type child struct {
	name     string
	envelope childEnvelope
	cmd      *exec.Cmd
	exited   chan error
}

// Supervisor owns the fleet.
type Supervisor struct {
	cfg         config.Configuration
	store       *store.Store
	executable  string
	log         *slog.Logger
	handle      *process.Handle
	pidfilePath string

	mu       sync.Mutex
	children []*child
	stopping bool
	exitCh   chan string
}

// New builds a Supervisor; executable is the path re-exec'd to spawn
// children (os.Args[0] in the normal case).
func New(cfg config.Configuration, s *store.Store, executable string) *Supervisor {
	return &Supervisor{cfg: cfg, store: s, executable: executable, log: logging.New(model.ProcessKindSupervisor, "supervisor"), pidfilePath: cfg.SupervisorPidfile}
}

// Run writes the PID file, registers itself, spawns the fleet, and blocks
// until a TERM/INT/QUIT signal or ctx cancellation, then shuts down.
// Returns *queueerrors.PidfileContentionError if another supervisor owns
// the configured PID file (spec §6 exit code 2).
func (sv *Supervisor) Run(ctx context.Context) error {
	if err := sv.acquirePidfile(); err != nil {
		return err
	}
	defer sv.removePidfile()

	h, err := process.Register(ctx, sv.store, "supervisor", model.ProcessKindSupervisor, nil, nil)
	if err != nil {
		return err
	}
	sv.handle = h
	defer func() { _ = process.Deregister(context.Background(), sv.store, sv.handle) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if err := sv.spawnAll(); err != nil {
		return err
	}

	heartbeat := time.NewTicker(time.Duration(sv.cfg.ProcessHeartbeatInterval))
	defer heartbeat.Stop()
	pruneTick := time.NewTicker(time.Duration(sv.cfg.ProcessAliveThreshold) / 2)
	defer pruneTick.Stop()
	retentionTick := time.NewTicker(time.Duration(sv.cfg.RetentionSweepInterval))
	defer retentionTick.Stop()

	exitCh := sv.watchChildren()

	for {
		select {
		case <-ctx.Done():
			sv.shutdown(syscall.SIGTERM)
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				sv.shutdown(syscall.SIGTERM)
				return nil
			case syscall.SIGQUIT:
				sv.shutdown(syscall.SIGKILL)
				return nil
			case syscall.SIGHUP:
				sv.log.Info("HUP received; reload not implemented, continuing")
			}

		case name := <-exitCh:
			sv.handleExit(name)

		case <-heartbeat.C:
			if err := sv.handle.Heartbeat(ctx, sv.store); err != nil {
				sv.log.Error("supervisor heartbeat failed", "error", err)
			}

		case <-retentionTick.C:
			if _, err := retention.Sweep(ctx, sv.store, time.Duration(sv.cfg.ClearFinishedJobsAfter), 1000, 100*time.Millisecond, sv.cfg.PreserveFinishedJobs); err != nil {
				sv.log.Error("retention sweep failed", "error", err)
			}

		case <-pruneTick.C:
			cutoff := time.Now().Add(-time.Duration(sv.cfg.ProcessAliveThreshold))
			if _, err := process.Prune(ctx, sv.store, cutoff, sv.handle.ID(), 50); err != nil {
				sv.log.Error("process pruning failed", "error", err)
			}
			if _, err := process.ReapOrphaned(ctx, sv.store, 50); err != nil {
				sv.log.Error("orphan reaping failed", "error", err)
			}
		}
	}
}

// watchChildren starts one goroutine per tracked child that waits on its
// process and reports its name on exit, so the select loop can respawn
// it without blocking on any single child. The returned channel is also
// stashed on the Supervisor so handleExit's respawn watchers can report
// into the same channel — a respawned child must stay just as visible to
// the select loop as an original one, or a second death goes unnoticed
// and the replica count silently drops (spec §4.4 "respawn to keep the
// desired replica count").
func (sv *Supervisor) watchChildren() <-chan string {
	out := make(chan string)
	sv.mu.Lock()
	sv.exitCh = out
	for _, c := range sv.children {
		c := c
		go func() {
			err := c.cmd.Wait()
			c.exited <- err
			out <- c.name
		}()
	}
	sv.mu.Unlock()
	return out
}

func (sv *Supervisor) handleExit(name string) {
	sv.mu.Lock()
	stopping := sv.stopping
	var target *child
	idx := -1
	for i, c := range sv.children {
		if c.name == name {
			target = c
			idx = i
			break
		}
	}
	sv.mu.Unlock()
	if target == nil || stopping {
		return
	}

	var exitErr error
	select {
	case exitErr = <-target.exited:
	default:
	}
	sv.log.Warn("child exited, respawning", "name", name, "error", exitErr)

	newChild, err := sv.spawn(target.envelope)
	if err != nil {
		sv.log.Error("respawn failed", "name", name, "error", err)
		return
	}
	sv.mu.Lock()
	sv.children[idx] = newChild
	exitCh := sv.exitCh
	sv.mu.Unlock()

	go func() {
		err := newChild.cmd.Wait()
		newChild.exited <- err
		exitCh <- newChild.name
	}()
}

// shutdown signals every tracked child with sig (TERM for graceful, KILL
// for immediate) and, for TERM, escalates to KILL after shutdown_timeout
// for anything still alive.
func (sv *Supervisor) shutdown(sig syscall.Signal) {
	sv.mu.Lock()
	sv.stopping = true
	children := append([]*child(nil), sv.children...)
	sv.mu.Unlock()

	for _, c := range children {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(sig)
		}
	}
	if sig == syscall.SIGKILL {
		return
	}

	// Wait for watchChildren's goroutines to observe each exit rather than
	// calling cmd.Wait() ourselves here — it may only be called once per
	// process, and a watcher goroutine is already waiting on each one.
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, c := range children {
			c := c
			wg.Add(1)
			go func() { defer wg.Done(); <-c.exited }()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(sv.cfg.ShutdownTimeout)):
		for _, c := range children {
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
		}
	}
}

func (sv *Supervisor) acquirePidfile() error {
	if sv.pidfilePath == "" {
		return nil
	}
	if data, err := os.ReadFile(sv.pidfilePath); err == nil {
		var pid int
		if _, scanErr := fmt.Sscanf(string(data), "%d", &pid); scanErr == nil && pid > 0 && processAlive(pid) {
			return &queueerrors.PidfileContentionError{Path: sv.pidfilePath}
		}
	}
	return os.WriteFile(sv.pidfilePath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

func (sv *Supervisor) removePidfile() {
	if sv.pidfilePath == "" {
		return
	}
	_ = os.Remove(sv.pidfilePath)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
