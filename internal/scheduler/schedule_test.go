package scheduler

import (
	"strings"
	"testing"
	"time"
)

func TestParseScheduleCron(t *testing.T) {
	sched, err := ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}

	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Next(%s) = %s, want %s", after, next, want)
	}
}

func TestParseScheduleRRULE(t *testing.T) {
	sched, err := ParseSchedule("RRULE:FREQ=DAILY;INTERVAL=1")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}

	after := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !next.After(after) {
		t.Errorf("Next(%s) = %s, want a time after %s", after, next, after)
	}
}

func TestParseScheduleInvalidCron(t *testing.T) {
	if _, err := ParseSchedule("not a cron expression"); err == nil {
		t.Error("expected an error for an invalid cron expression, got nil")
	}
}

func TestParseScheduleInvalidRRULE(t *testing.T) {
	if _, err := ParseSchedule("RRULE:not valid"); err == nil {
		t.Error("expected an error for an invalid rrule, got nil")
	}
}

func TestParseScheduleDispatchesOnPrefix(t *testing.T) {
	cases := []struct {
		raw      string
		wantKind string
	}{
		{"0 0 * * *", "*scheduler.cronSchedule"},
		{"RRULE:FREQ=WEEKLY", "*scheduler.rruleSchedule"},
	}
	for _, c := range cases {
		sched, err := ParseSchedule(c.raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", c.raw, err)
		}
		got := strings.TrimPrefix(typeName(sched), "")
		if got != c.wantKind {
			t.Errorf("ParseSchedule(%q) concrete type = %s, want %s", c.raw, got, c.wantKind)
		}
	}
}

func typeName(s Schedule) string {
	switch s.(type) {
	case *cronSchedule:
		return "*scheduler.cronSchedule"
	case *rruleSchedule:
		return "*scheduler.rruleSchedule"
	default:
		return "unknown"
	}
}
