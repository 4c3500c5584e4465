// Package pipeline executes a Task's declarative step sequence: render each
// step's input against an accumulating variable environment, invoke its
// tool, and classify the outcome as ok, retryable, or terminal.
package pipeline

import "encoding/json"

// OutcomeKind is the explicit tagged-variant replacement for
// exceptions-as-control-flow: every step produces exactly one of these, and
// the executor loop switches on Kind rather than inspecting an error's
// dynamic type.
type OutcomeKind int

const (
	Ok OutcomeKind = iota
	Retry
	Terminal
)

func (k OutcomeKind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Retry:
		return "retry"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the result of invoking a single step's tool.
type Outcome struct {
	Kind   OutcomeKind
	Output json.RawMessage
	Err    error
}

// Result is the outcome of running an entire pipeline. Kind mirrors the
// Outcome that produced it (Ok on success, Retry or Terminal on failure) so
// callers can tell a retryable failure from one that must never be retried
// without re-inspecting Err.
type Result struct {
	Success   bool
	Kind      OutcomeKind
	StepIndex *int
	StepID    *string
	Err       error
	Output    json.RawMessage
}
