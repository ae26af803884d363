// Package model defines the rows pgqueue persists: a Job and the sibling
// execution tables that express its current lifecycle state, plus the
// process/semaphore/recurring-task records the runnable fleet coordinates
// through. See the package doc in internal/store for how these are read
// and written.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is the canonical record of a unit of work. At any moment a Job has at
// most one of {ScheduledExecution, ReadyExecution, ClaimedExecution,
// BlockedExecution, FailedExecution}; a Job with FinishedAt set has none of
// them.
type Job struct {
	ID             uuid.UUID
	QueueName      string
	ClassName      string
	Arguments      []byte // raw JSON
	Priority       int
	ScheduledAt    *time.Time
	FinishedAt     *time.Time
	ConcurrencyKey *string
	ConcurrencyLim *int
	ConcurrencyDur *time.Duration
	ConcurrencyGrp *string
	ExternalTaskID *string
	CreatedAt      time.Time
}

// ScheduledExecution is a job waiting for its ScheduledAt to arrive.
type ScheduledExecution struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	QueueName   string
	Priority    int
	ScheduledAt time.Time
	CreatedAt   time.Time
}

// ReadyExecution is a job eligible to be claimed by a worker.
type ReadyExecution struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	QueueName string
	Priority  int
	CreatedAt time.Time
}

// ClaimedExecution is a job assigned to a worker process and running.
// ProcessID is nullable to survive the owning Process row's deletion: the
// foreign key is ON DELETE SET NULL so orphaned rows can be detected and
// recovered by maintenance rather than silently vanishing.
type ClaimedExecution struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	ProcessID *uuid.UUID
	CreatedAt time.Time
}

// BlockedExecution is a job denied admission by a concurrency limit, parked
// until a permit frees up or its lease expires.
type BlockedExecution struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	QueueName      string
	Priority       int
	ConcurrencyKey string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// FailedExecution is a terminal failure record, retryable via explicit
// operator action.
type FailedExecution struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Error     string
	CreatedAt time.Time
}

// Process is a live runnable: supervisor, dispatcher, worker, or scheduler.
type ProcessKind string

const (
	ProcessKindSupervisor ProcessKind = "supervisor"
	ProcessKindDispatcher ProcessKind = "dispatcher"
	ProcessKindWorker     ProcessKind = "worker"
	ProcessKindScheduler  ProcessKind = "scheduler"
)

type Process struct {
	ID              uuid.UUID
	Name            string
	Kind            ProcessKind
	PID             int
	Hostname        string
	SupervisorID    *uuid.UUID
	Metadata        []byte // raw JSON
	LastHeartbeatAt time.Time
	CreatedAt       time.Time
}

// Semaphore is a named concurrency counter. Value is the number of permits
// still available; Group is a label carried for operator-facing grouping
// only (see SPEC_FULL.md §4 "concurrency.group") and never participates in
// admission.
type Semaphore struct {
	Key       string
	Value     int
	Limit     int
	Group     *string
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecurringTask is a persisted recurring-task row. Static tasks are
// declared in configuration at boot; non-static ones are created via
// operator action at runtime.
type RecurringTask struct {
	ID          uuid.UUID
	Key         string
	Schedule    string
	ClassName   string
	Arguments   []byte
	QueueName   string
	Priority    int
	Static      bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecurringExecution records one (task_key, run_at) fire. The unique
// constraint on that pair provides exactly-once enqueue across racing
// schedulers.
type RecurringExecution struct {
	ID      uuid.UUID
	TaskKey string
	JobID   uuid.UUID
	RunAt   time.Time
}

// Pause marks a queue as excluded from worker claim scopes while still
// accepting enqueues (spec §4.8).
type Pause struct {
	QueueName string
	CreatedAt time.Time
}
