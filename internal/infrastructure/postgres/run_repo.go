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

type TaskRunRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRunRepository(pool *pgxpool.Pool) *TaskRunRepository {
	return &TaskRunRepository{pool: pool}
}

const runColumns = `id, task_id, lease_owner, leased_until, started_at, finished_at,
	success, error, step_index, step_id, attempt, output`

func (r *TaskRunRepository) Open(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
	query := `
		INSERT INTO task_run (task_id, lease_owner, leased_until, started_at, attempt)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + runColumns

	row := r.pool.QueryRow(ctx, query, run.TaskID, run.LeaseOwner, run.LeasedUntil, run.StartedAt, run.Attempt)
	return scanRun(row)
}

func (r *TaskRunRepository) GetByID(ctx context.Context, id string) (*domain.TaskRun, error) {
	query := `SELECT ` + runColumns + ` FROM task_run WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanRun(row)
}

func (r *TaskRunRepository) Finalize(ctx context.Context, id string, success bool, errMsg *string, stepIndex *int, stepID *string, output json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_run
		SET success = $2, error = $3, step_index = $4, step_id = $5, output = $6,
		    finished_at = NOW(), leased_until = NULL
		WHERE id = $1`,
		id, success, errMsg, stepIndex, stepID, output)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *TaskRunRepository) LatestAttempt(ctx context.Context, taskID string) (int, error) {
	var attempt *int
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(attempt) FROM task_run WHERE task_id = $1`, taskID,
	).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("latest attempt: %w", err)
	}
	if attempt == nil {
		return 0, nil
	}
	return *attempt, nil
}

func (r *TaskRunRepository) HasSuccessOnOrAfter(ctx context.Context, taskID, dedupeKey string, windowStart, firingAt time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM task_run
			WHERE task_id = $1 AND success = TRUE
			  AND started_at >= $2 AND started_at < $3
		)`, taskID, windowStart, firingAt,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedupe check: %w", err)
	}
	_ = dedupeKey // the window is already scoped to this task; dedupeKey is carried for audit logging by the caller
	return exists, nil
}

func (r *TaskRunRepository) ListStaleInFlight(ctx context.Context, staleCutoff time.Time, limit int) ([]*domain.TaskRun, error) {
	query := `SELECT ` + runColumns + ` FROM task_run
		WHERE success IS NULL AND leased_until IS NOT NULL AND leased_until < $1
		ORDER BY leased_until ASC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, staleCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (r *TaskRunRepository) MarkLeaseExpired(ctx context.Context, id string) error {
	msg := "lease_expired"
	return r.Finalize(ctx, id, false, &msg, nil, nil, nil)
}

func scanRun(row rowScanner) (*domain.TaskRun, error) {
	var run domain.TaskRun
	err := row.Scan(
		&run.ID, &run.TaskID, &run.LeaseOwner, &run.LeasedUntil, &run.StartedAt, &run.FinishedAt,
		&run.Success, &run.Error, &run.StepIndex, &run.StepID, &run.Attempt, &run.Output,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
