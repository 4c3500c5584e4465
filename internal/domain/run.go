package domain

import (
	"encoding/json"
	"time"
)

// TaskRun is one execution attempt of a Task's logical firing.
type TaskRun struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`

	LeaseOwner  string     `json:"leaseOwner"`
	LeasedUntil *time.Time `json:"leasedUntil,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	Success *bool   `json:"success"`
	Error   *string `json:"error,omitempty"`

	StepIndex *int    `json:"stepIndex,omitempty"`
	StepID    *string `json:"stepId,omitempty"`

	Attempt int             `json:"attempt"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// InFlight reports whether the run has not yet recorded an outcome.
func (r *TaskRun) InFlight() bool {
	return r.Success == nil
}
