package handler

const (
	errInternalServer = "Internal server error"

	errTaskNotFound       = "Task not found"
	errDuplicateDedupe    = "Task with this dedupe key already exists for this agent"
	errInvalidSchedule    = "Invalid schedule expression"
	errInvalidBackoff     = "Unrecognized backoff strategy"
	errInvalidPriority    = "Priority must be between 1 and 9"
	errInvalidPipeline    = "Invalid pipeline payload"
	errInvalidStatus      = "Invalid status value"
	errTaskNotSchedulable = "Task schedule kind does not fire on a wall clock"

	errRunNotFound = "Task run not found"
)
