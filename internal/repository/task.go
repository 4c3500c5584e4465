package repository

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// ListTasksInput paginates a single agent's tasks by (created_at DESC, id DESC).
type ListTasksInput struct {
	AgentID    string
	Status     domain.TaskStatus
	CursorTime *time.Time
	CursorID   string
	Limit      int
}

// TaskRepository is the CRUD + scheduling-support surface over the task table.
type TaskRepository interface {
	Create(ctx context.Context, t *domain.Task) (*domain.Task, error)
	GetByID(ctx context.Context, id, agentID string) (*domain.Task, error)

	// GetInternal fetches a task by id without agent scoping, for
	// cross-cutting consumers (worker, reaper) that act on behalf of the
	// system rather than a single agent's API request.
	GetInternal(ctx context.Context, id string) (*domain.Task, error)

	List(ctx context.Context, input ListTasksInput) ([]*domain.Task, error)
	SetStatus(ctx context.Context, id, agentID string, status domain.TaskStatus) error
	Delete(ctx context.Context, id, agentID string) error

	// LoadActive returns every status=active task, for scheduler startup and reload.
	LoadActive(ctx context.Context) ([]*domain.Task, error)

	// FireDue atomically records a firing and advances the task's calendar position:
	// inserts a due_work row at firingAt, sets next_fire_at=nextFireAt, and — when
	// misfireSkipped > 0 — appends a misfire_coalesced audit entry. One transaction.
	FireDue(ctx context.Context, taskID string, firingAt, nextFireAt time.Time, misfireSkipped int) error

	// MarkUnschedulable flips a task to paused and records a schedule_invalid audit
	// entry, used when the schedule engine rejects its expression.
	MarkUnschedulable(ctx context.Context, id string, reason string) error
}
