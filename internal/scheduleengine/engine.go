// Package scheduleengine turns a Task's schedule_kind/schedule_expr into
// concrete firing instants. It is pure: given a schedule and a point in
// time, it computes the next firing without touching the store or the
// clock beyond what is passed in.
package scheduleengine

import (
	"fmt"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// ParseError wraps a schedule expression that failed validation, so callers
// can distinguish "expression is garbage" from any other failure.
type ParseError struct {
	Kind domain.ScheduleKind
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s schedule %q: %v", e.Kind, e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Schedule computes firing instants for a single task's schedule expression,
// evaluated in the task's own IANA timezone.
type Schedule interface {
	// Next returns the first instant strictly after after that the schedule
	// fires. It returns ok=false once the schedule has no further firings
	// (e.g. an exhausted RRULE COUNT/UNTIL).
	Next(after time.Time) (t time.Time, ok bool)
}

// Parse validates schedule_expr for kind against timezone and returns a
// Schedule able to compute firings, or a *ParseError.
//
// kind == ScheduleEvent and ScheduleCondition do not fire on a wall clock
// and are rejected with a *ParseError; callers must check kind.Firing()
// before calling Parse for calendar purposes. Parse accepts ScheduleOnce (a
// single instant) so the scheduler can validate and insert it uniformly with
// cron/rrule tasks.
func Parse(kind domain.ScheduleKind, expr string, timezone string) (Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &ParseError{Kind: kind, Expr: expr, Err: fmt.Errorf("load timezone %q: %w", timezone, err)}
	}

	switch kind {
	case domain.ScheduleCron:
		return newCronSchedule(expr, loc)
	case domain.ScheduleRRule:
		return newRRuleSchedule(expr, loc)
	case domain.ScheduleOnce:
		return newOnceSchedule(expr, loc)
	case domain.ScheduleEvent, domain.ScheduleCondition:
		return nil, &ParseError{Kind: kind, Expr: expr, Err: fmt.Errorf("schedule kind %q is not clock-driven", kind)}
	default:
		return nil, &ParseError{Kind: kind, Expr: expr, Err: fmt.Errorf("unknown schedule kind %q", kind)}
	}
}
