package domain

import (
	"encoding/json"
	"time"
)

// ScheduleKind selects the grammar used to interpret a Task's ScheduleExpr.
type ScheduleKind string

const (
	ScheduleCron      ScheduleKind = "cron"
	ScheduleRRule     ScheduleKind = "rrule"
	ScheduleOnce      ScheduleKind = "once"
	ScheduleEvent     ScheduleKind = "event"
	ScheduleCondition ScheduleKind = "condition"
)

// Firing reports whether kind ever fires on the wall clock, as opposed to
// being driven entirely by an external publisher (event, condition).
func (k ScheduleKind) Firing() bool {
	return k == ScheduleCron || k == ScheduleRRule || k == ScheduleOnce
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskActive   TaskStatus = "active"
	TaskPaused   TaskStatus = "paused"
	TaskCanceled TaskStatus = "canceled"
)

// BackoffStrategy is a closed enum — unrecognized values are a configuration
// error at task-create time, never a silent fallback.
type BackoffStrategy string

const (
	BackoffExponentialJitter BackoffStrategy = "exponential_jitter"
	BackoffFixed             BackoffStrategy = "fixed"
	BackoffLinear            BackoffStrategy = "linear"
)

// ValidBackoff reports whether s is one of the three recognized strategies.
func ValidBackoff(s BackoffStrategy) bool {
	switch s {
	case BackoffExponentialJitter, BackoffFixed, BackoffLinear:
		return true
	default:
		return false
	}
}

// Step is one entry in a Task's declarative pipeline.
type Step struct {
	ID             string          `json:"id" validate:"required"`
	Tool           string          `json:"tool" validate:"required"`
	Input          json.RawMessage `json:"input"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=3600"`
	SaveAs         string          `json:"save_as,omitempty"`
}

// Pipeline is the ordered sequence of tool invocations a Task's firing runs.
type Pipeline struct {
	Params json.RawMessage `json:"params,omitempty"`
	Steps  []Step          `json:"steps" validate:"required,min=1,dive"`
}

// Task is the scheduled unit of work.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AgentID     string `json:"agentId"`

	ScheduleKind ScheduleKind `json:"scheduleKind"`
	ScheduleExpr string       `json:"scheduleExpr"`
	Timezone     string       `json:"timezone"`

	// Payload seeds the variable environment every pipeline run starts from,
	// resolvable via ${...} expressions alongside each step's own output.
	Payload json.RawMessage `json:"payload"`

	Pipeline Pipeline `json:"pipeline"`

	Status   TaskStatus `json:"status"`
	Priority int        `json:"priority"`

	DedupeKey           *string `json:"dedupeKey,omitempty"`
	DedupeWindowSeconds int     `json:"dedupeWindowSeconds,omitempty"`

	MaxRetries int             `json:"maxRetries"`
	Backoff    BackoffStrategy `json:"backoff"`
	// BackoffSeconds is the configured interval for the fixed strategy.
	// Ignored by exponential_jitter and linear.
	BackoffSeconds int `json:"backoffSeconds,omitempty"`

	ConcurrencyKey *string `json:"concurrencyKey,omitempty"`

	NextFireAt *time.Time `json:"nextFireAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultTimezone is applied when a Task omits an explicit IANA zone.
const DefaultTimezone = "Europe/Chisinau"
