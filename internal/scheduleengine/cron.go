package scheduleengine

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both the traditional 5-field form and the optional
// 6-field (seconds-first) form, plus the @every/@daily descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type cronSchedule struct {
	spec cron.Schedule
	loc  *time.Location
}

func newCronSchedule(expr string, loc *time.Location) (Schedule, error) {
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &ParseError{Kind: "cron", Expr: expr, Err: err}
	}
	return &cronSchedule{spec: spec, loc: loc}, nil
}

// Next evaluates the cron spec in the schedule's own timezone so that
// wall-clock expressions ("every day at 09:00") stay pinned to local time
// across DST transitions: converting after-in-loc and handing the result
// straight to robfig/cron, which is itself DST-aware when it operates on a
// time.Time carrying the right *time.Location.
func (s *cronSchedule) Next(after time.Time) (time.Time, bool) {
	next := s.spec.Next(after.In(s.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
