// Command pgqueue is the supervisor entry point (spec §6): `start` boots
// the configured fleet and blocks until a graceful shutdown. It doubles
// as the binary every spawned child re-execs into: a child is started
// with the supervisor's own arguments plus the PGQUEUE_CHILD environment
// variable, goes through the same flag parsing and job-class registration
// below, and pgqueue's Start then runs the child's single runnable
// instead of a supervisor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/civic-os/pgqueue"
	"github.com/civic-os/pgqueue/internal/queueerrors"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 || os.Args[1] != "start" {
		fmt.Fprintln(os.Stderr, "usage: pgqueue start [--config PATH] [--only-work] [--disable-autoload]")
		return 1
	}

	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the supervisor YAML configuration")
	onlyWork := fs.Bool("only-work", false, "accepted but has no effect; the configuration file decides which processes run")
	disableAutoload := fs.Bool("disable-autoload", false, "skip registering the example job classes")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	q, err := pgqueue.Open(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgqueue:", err)
		return exitCodeFor(err)
	}
	defer q.Close()

	if !*disableAutoload {
		registerExampleJobClasses(q)
	}
	_ = onlyWork // worker-only restriction is applied by the operator's own configuration file in this reference CLI

	if err := q.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pgqueue:", err)
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps the error kinds spec §6 calls out to their exit codes:
// 0 graceful, 1 configuration error, 2 PID-file contention.
func exitCodeFor(err error) int {
	var pidErr *queueerrors.PidfileContentionError
	var cfgErr *queueerrors.ConfigurationError
	switch {
	case asError(err, &pidErr):
		return 2
	case asError(err, &cfgErr):
		return 1
	default:
		return 1
	}
}

func asError[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// registerExampleJobClasses demonstrates module discovery (spec §6) with
// a no-op job class; a real host application registers its own classes
// here instead.
func registerExampleJobClasses(q *pgqueue.Queue) {
	q.RegisterJobClass("pgqueue.example.noop", func(ctx context.Context, arguments json.RawMessage) error {
		return nil
	})
}
