package domain

import "errors"

var (
	ErrAgentNotFound = errors.New("agent not found")

	ErrTaskNotFound      = errors.New("task not found")
	ErrDuplicateDedupe   = errors.New("task with this dedupe key already exists for this owner")
	ErrInvalidSchedule   = errors.New("invalid schedule expression")
	ErrInvalidBackoff    = errors.New("unrecognized backoff strategy")
	ErrInvalidPriority   = errors.New("priority must be between 1 and 9")
	ErrInvalidPipeline   = errors.New("invalid pipeline payload")
	ErrTaskNotSchedulable = errors.New("task schedule kind does not fire on a wall clock")

	ErrRunNotFound = errors.New("task run not found")

	ErrUnauthorized = errors.New("unauthorized")
)
