package queueerrors

import (
	"errors"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"UnknownJobClassError", &UnknownJobClassError{ClassName: "Widget"}, `pgqueue: unknown job class "Widget"`},
		{"JobFailure", &JobFailure{Cause: errors.New("boom")}, "pgqueue: job failed: boom"},
		{"ProcessPrunedError", &ProcessPrunedError{ProcessName: "worker-1"}, `pgqueue: process "worker-1" pruned (heartbeat expired)`},
		{"ProcessMissingError", &ProcessMissingError{}, "pgqueue: claiming process no longer registered"},
		{"ConfigurationError", &ConfigurationError{Reason: "no dsn"}, "pgqueue: configuration error: no dsn"},
		{"EnqueueError", &EnqueueError{Cause: errors.New("duplicate key")}, "pgqueue: enqueue failed: duplicate key"},
		{"PidfileContentionError", &PidfileContentionError{Path: "/tmp/pgqueue.pid"}, `pgqueue: pidfile "/tmp/pgqueue.pid" is owned by a live supervisor`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Error(); got != c.want {
				t.Errorf("Error() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestJobFailureUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &JobFailure{Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestEnqueueErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &EnqueueError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestNewAggregateEmpty(t *testing.T) {
	if err := NewAggregate(); err != nil {
		t.Errorf("NewAggregate() = %v, want nil for zero errors", err)
	}
}

func TestNewAggregateAllNil(t *testing.T) {
	if err := NewAggregate(nil, nil); err != nil {
		t.Errorf("NewAggregate(nil, nil) = %v, want nil", err)
	}
}

func TestNewAggregateNonEmpty(t *testing.T) {
	err := NewAggregate(errors.New("first"), errors.New("second"))
	if err == nil {
		t.Fatal("expected a non-nil aggregate error")
	}
}
