// Package queueerrors defines the error kinds pgqueue's core raises, per
// spec §7. Callers distinguish them with errors.Is/errors.As rather than
// string matching.
package queueerrors

import (
	"fmt"

	"oss.nandlabs.io/golly/errutils"
)

// UnknownJobClassError is returned when a Job's ClassName does not resolve
// in the registry. It is a permanent failure: no retry.
type UnknownJobClassError struct {
	ClassName string
}

func (e *UnknownJobClassError) Error() string {
	return fmt.Sprintf("pgqueue: unknown job class %q", e.ClassName)
}

// JobFailure wraps whatever error the user callable returned.
type JobFailure struct {
	Cause error
}

func (e *JobFailure) Error() string { return fmt.Sprintf("pgqueue: job failed: %v", e.Cause) }
func (e *JobFailure) Unwrap() error { return e.Cause }

// ProcessPrunedError is synthesized when a dead process's claimed
// executions are failed out by pruning.
type ProcessPrunedError struct {
	ProcessName string
}

func (e *ProcessPrunedError) Error() string {
	return fmt.Sprintf("pgqueue: process %q pruned (heartbeat expired)", e.ProcessName)
}

// ProcessMissingError is synthesized when maintenance discovers a claimed
// execution whose process_id is already NULL.
type ProcessMissingError struct{}

func (e *ProcessMissingError) Error() string {
	return "pgqueue: claiming process no longer registered"
}

// ConfigurationError is surfaced at supervisor boot.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("pgqueue: configuration error: %s", e.Reason) }

// EnqueueError wraps database contention or constraint violations at
// enqueue time.
type EnqueueError struct {
	Cause error
}

func (e *EnqueueError) Error() string { return fmt.Sprintf("pgqueue: enqueue failed: %v", e.Cause) }
func (e *EnqueueError) Unwrap() error { return e.Cause }

// PidfileContentionError means another supervisor already owns the pidfile.
type PidfileContentionError struct {
	Path string
}

func (e *PidfileContentionError) Error() string {
	return fmt.Sprintf("pgqueue: pidfile %q is owned by a live supervisor", e.Path)
}

// NewAggregate builds a golly MultiError from a batch of independent
// failures (process pruning), matching SPEC_FULL.md's
// ambient-error-handling choice to use golly/errutils for fan-in error
// aggregation where the teacher only ever handled one error at a time.
func NewAggregate(errs ...error) error {
	agg := errutils.NewMultiErr(nil)
	for _, e := range errs {
		agg.Add(e)
	}
	if agg.HasErrors() {
		return agg
	}
	return nil
}
