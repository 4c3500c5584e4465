package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ordinaut/ordinaut/internal/domain"
)

type DueWorkRepository struct {
	pool *pgxpool.Pool
}

func NewDueWorkRepository(pool *pgxpool.Pool) *DueWorkRepository {
	return &DueWorkRepository{pool: pool}
}

// Claim implements the contention-free queue protocol: lock up to
// limit rows ordered by priority then run_at, skipping anything another
// worker already holds, and stamp them with this worker's lease. The CTE
// keeps the row selection and the lock-stamping update in a single
// round trip so no other transaction can observe the rows between steps.
func (r *DueWorkRepository) Claim(ctx context.Context, workerID string, leaseDuration time.Duration, limit int) ([]*domain.DueWorkItem, error) {
	query := `
		WITH claimed AS (
			SELECT dw.id
			FROM due_work dw
			JOIN task t ON t.id = dw.task_id
			WHERE (dw.locked_until IS NULL OR dw.locked_until < NOW())
			  AND dw.run_at <= NOW()
			ORDER BY t.priority DESC, dw.run_at ASC, dw.id ASC
			LIMIT $3
			FOR UPDATE OF dw SKIP LOCKED
		)
		UPDATE due_work dw
		SET locked_until = NOW() + $2::interval, locked_by = $1
		FROM claimed
		WHERE dw.id = claimed.id
		RETURNING dw.id, dw.task_id, dw.run_at, dw.locked_until, dw.locked_by, dw.created_at`

	rows, err := r.pool.Query(ctx, query, workerID, leaseDuration, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due_work: %w", err)
	}
	defer rows.Close()

	var claimedIDs []int64
	items := make(map[int64]*domain.DueWorkItem)
	for rows.Next() {
		var it domain.DueWorkItem
		if err := rows.Scan(&it.ID, &it.TaskID, &it.RunAt, &it.LockedUntil, &it.LockedBy, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan due_work: %w", err)
		}
		claimedIDs = append(claimedIDs, it.ID)
		items[it.ID] = &it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(claimedIDs) == 0 {
		return nil, nil
	}

	taskQuery := `SELECT dw.id, ` + taskColumns + `
		FROM due_work dw JOIN task t ON t.id = dw.task_id
		WHERE dw.id = ANY($1)`
	taskRows, err := r.pool.Query(ctx, taskQuery, claimedIDs)
	if err != nil {
		return nil, fmt.Errorf("load claimed tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var dwID int64
		t, err := scanTaskWithLeadID(taskRows, &dwID)
		if err != nil {
			return nil, err
		}
		if it, ok := items[dwID]; ok {
			it.Task = t
		}
	}
	if err := taskRows.Err(); err != nil {
		return nil, err
	}

	out := make([]*domain.DueWorkItem, 0, len(claimedIDs))
	for _, id := range claimedIDs {
		out = append(out, items[id])
	}
	return out, nil
}

func scanTaskWithLeadID(row rowScanner, leadID *int64) (*domain.Task, error) {
	var t domain.Task
	var pipeline []byte
	err := row.Scan(
		leadID,
		&t.ID, &t.Title, &t.Description, &t.AgentID, &t.ScheduleKind, &t.ScheduleExpr, &t.Timezone,
		&t.Payload, &pipeline, &t.Status, &t.Priority, &t.DedupeKey, &t.DedupeWindowSeconds,
		&t.MaxRetries, &t.Backoff, &t.BackoffSeconds, &t.ConcurrencyKey, &t.NextFireAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan claimed task: %w", err)
	}
	if len(pipeline) > 0 {
		if err := json.Unmarshal(pipeline, &t.Pipeline); err != nil {
			return nil, fmt.Errorf("unmarshal pipeline: %w", err)
		}
	}
	return &t, nil
}

func (r *DueWorkRepository) Release(ctx context.Context, id int64, delay time.Duration) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE due_work SET locked_until = NULL, locked_by = NULL, run_at = run_at + $2::interval WHERE id = $1`,
		id, delay)
	if err != nil {
		return fmt.Errorf("release due_work: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) Reschedule(ctx context.Context, id int64, runAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE due_work SET run_at = $2, locked_until = NULL, locked_by = NULL WHERE id = $1`,
		id, runAt)
	if err != nil {
		return fmt.Errorf("reschedule due_work: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM due_work WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete due_work: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) Enqueue(ctx context.Context, taskID string, runAt time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO due_work (task_id, run_at) VALUES ($1, $2)`, taskID, runAt)
	if err != nil {
		return fmt.Errorf("enqueue due_work: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) DeleteByTask(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM due_work WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete due_work by task: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) UnlockStale(ctx context.Context, staleCutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE due_work SET locked_until = NULL, locked_by = NULL
		 WHERE locked_until IS NOT NULL AND locked_until < $1`,
		staleCutoff)
	if err != nil {
		return 0, fmt.Errorf("unlock stale due_work: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *DueWorkRepository) Depth(ctx context.Context) (int, error) {
	var depth int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM due_work`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("due_work depth: %w", err)
	}
	return depth, nil
}

func (r *DueWorkRepository) OldestRunAt(ctx context.Context) (time.Time, bool, error) {
	var runAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT run_at FROM due_work WHERE locked_until IS NULL ORDER BY run_at ASC LIMIT 1`,
	).Scan(&runAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("oldest due_work run_at: %w", err)
	}
	return runAt, true, nil
}
