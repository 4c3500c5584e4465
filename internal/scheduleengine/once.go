package scheduleengine

import "time"

// onceSchedule fires exactly once, at an RFC 3339 instant fixed at create
// time. After that single firing, Next always reports ok=false.
type onceSchedule struct {
	at time.Time
}

func newOnceSchedule(expr string, loc *time.Location) (Schedule, error) {
	at, err := time.ParseInLocation(time.RFC3339, expr, loc)
	if err != nil {
		return nil, &ParseError{Kind: "once", Expr: expr, Err: err}
	}
	return &onceSchedule{at: at}, nil
}

func (s *onceSchedule) Next(after time.Time) (time.Time, bool) {
	if s.at.After(after) {
		return s.at, true
	}
	return time.Time{}, false
}
