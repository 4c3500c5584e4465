package scheduleengine

import (
	"time"

	"github.com/teambition/rrule-go"
)

type rruleSchedule struct {
	rule *rrule.RRule
	loc  *time.Location
}

// newRRuleSchedule parses an RFC-5545 RRULE line (optionally preceded by a
// DTSTART line, as produced by most calendar tooling). When the expression
// carries no DTSTART, it is anchored to the start of the task's timezone's
// current day so repeated Parse calls on the same day agree.
func newRRuleSchedule(expr string, loc *time.Location) (Schedule, error) {
	set, err := rrule.StrToRRuleSet(expr)
	if err == nil && set != nil {
		rules := set.GetRRule()
		if len(rules) > 0 {
			return &rruleSchedule{rule: rules[0], loc: loc}, nil
		}
	}

	rule, err := rrule.StrToRRule(expr)
	if err != nil {
		return nil, &ParseError{Kind: "rrule", Expr: expr, Err: err}
	}

	opts := rule.OrigOptions
	if opts.Dtstart.IsZero() {
		now := time.Now().In(loc)
		opts.Dtstart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		anchored, err := rrule.NewRRule(opts)
		if err != nil {
			return nil, &ParseError{Kind: "rrule", Expr: expr, Err: err}
		}
		rule = anchored
	}

	return &rruleSchedule{rule: rule, loc: loc}, nil
}

func (s *rruleSchedule) Next(after time.Time) (time.Time, bool) {
	next := s.rule.After(after.In(s.loc), false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
