package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// TaskRunRepository persists execution attempts.
type TaskRunRepository interface {
	// Open inserts a run with attempt = LatestAttempt(taskID)+1 computed by the
	// caller and returns the persisted row (with its DB-generated ID).
	Open(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error)

	GetByID(ctx context.Context, id string) (*domain.TaskRun, error)

	// Finalize records the terminal outcome of an open run.
	Finalize(ctx context.Context, id string, success bool, errMsg *string, stepIndex *int, stepID *string, output json.RawMessage) error

	// LatestAttempt returns the highest attempt number recorded for a task's
	// current logical firing, or 0 if none exists yet.
	LatestAttempt(ctx context.Context, taskID string) (int, error)

	// HasSuccessOnOrAfter reports whether a successful run for (taskID, dedupeKey)
	// exists with started_at in [windowStart, firingAt) — the dedupe check.
	HasSuccessOnOrAfter(ctx context.Context, taskID, dedupeKey string, windowStart, firingAt time.Time) (bool, error)

	// ListStaleInFlight returns in-flight runs whose lease has expired, for the reaper.
	ListStaleInFlight(ctx context.Context, staleCutoff time.Time, limit int) ([]*domain.TaskRun, error)

	// MarkLeaseExpired finalizes a stale run as success=false, error=lease_expired.
	MarkLeaseExpired(ctx context.Context, id string) error
}
