package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
)

// Schedule computes the next fire time after a given instant. pgqueue
// unifies cron expressions and RRULE strings behind this one interface
// (SPEC_FULL.md §3), selected by a "RRULE:" prefix on the stored schedule
// string.
type Schedule interface {
	Next(after time.Time) (time.Time, error)
}

// ParseSchedule parses a RecurringTask's stored schedule string into a
// Schedule, dispatching on the "RRULE:" prefix.
func ParseSchedule(raw string) (Schedule, error) {
	if rest, ok := strings.CutPrefix(raw, "RRULE:"); ok {
		r, err := rrule.StrToRRule(rest)
		if err != nil {
			return nil, fmt.Errorf("pgqueue: parsing rrule schedule %q: %w", raw, err)
		}
		return &rruleSchedule{rule: r}, nil
	}

	parsed, err := cron.ParseStandard(raw)
	if err != nil {
		return nil, fmt.Errorf("pgqueue: parsing cron schedule %q: %w", raw, err)
	}
	return &cronSchedule{parsed: parsed}, nil
}

// cronSchedule wraps robfig/cron/v3's five-field standard parser, the
// library consolidated-worker-go/scheduled_jobs_worker.go already uses for
// its ticker-driven cron matching.
type cronSchedule struct {
	parsed cron.Schedule
}

func (c *cronSchedule) Next(after time.Time) (time.Time, error) {
	return c.parsed.Next(after), nil
}

// rruleSchedule wraps teambition/rrule-go, grounded on
// expand_recurring_series_worker.go's RRULE-based appointment-series
// expansion — generalized here to drive the same RecurringTask scheduling
// loop a cron schedule does.
type rruleSchedule struct {
	rule *rrule.RRule
}

func (r *rruleSchedule) Next(after time.Time) (time.Time, error) {
	next := r.rule.After(after, false)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("pgqueue: rrule has no occurrence after %s", after)
	}
	return next, nil
}
