package repository

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// DueWorkRepository implements the queue claim protocol: claim with
// SELECT ... FOR UPDATE SKIP LOCKED, then finalize/reschedule/release.
type DueWorkRepository interface {
	// Claim locks up to limit due rows ordered by (task.priority DESC, run_at ASC,
	// id ASC), stamping locked_until/locked_by, and returns them with Task populated.
	Claim(ctx context.Context, workerID string, leaseDuration time.Duration, limit int) ([]*domain.DueWorkItem, error)

	// Release clears locked_until/locked_by without deleting the row — used when
	// the concurrency gate can't be acquired. delay postpones run_at to avoid a hot loop.
	Release(ctx context.Context, id int64, delay time.Duration) error

	// Reschedule sets a new run_at for a retryable failure and clears the lock.
	Reschedule(ctx context.Context, id int64, runAt time.Time) error

	// Delete removes the row — used on success, terminal failure, or dedupe skip.
	Delete(ctx context.Context, id int64) error

	// Enqueue inserts a due_work row directly for an externally-driven firing
	// (event/condition kind tasks, per the event bus contract: "an external
	// publisher inserts a due_work row directly"). Unlike FireDue, it does not
	// touch task.next_fire_at — event/condition tasks have no clock-driven
	// next firing for the scheduler to track.
	Enqueue(ctx context.Context, taskID string, runAt time.Time) error

	// DeleteByTask eagerly removes all due_work for a task, used when it is
	// paused or canceled.
	DeleteByTask(ctx context.Context, taskID string) error

	// UnlockStale clears locked_until/locked_by on rows whose lease has expired.
	UnlockStale(ctx context.Context, staleCutoff time.Time) (int, error)

	// Depth returns the current queue size, for the queue-depth gauge.
	Depth(ctx context.Context) (int, error)

	// OldestRunAt returns the run_at of the earliest unclaimed due row, for
	// computing scheduler_lag_seconds from the store directly — usable by
	// any process, not only the one running the Scheduler Loop's in-memory
	// calendar.
	OldestRunAt(ctx context.Context) (time.Time, bool, error)
}
