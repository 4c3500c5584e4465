package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
)

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, title, description, agent_id, schedule_kind, schedule_expr, timezone,
	payload, pipeline, status, priority, dedupe_key, dedupe_window_seconds,
	max_retries, backoff, backoff_seconds, concurrency_key, next_fire_at, created_at, updated_at`

func (r *TaskRepository) Create(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	pipeline, err := json.Marshal(t.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline: %w", err)
	}

	query := `
		INSERT INTO task (
			title, description, agent_id, schedule_kind, schedule_expr, timezone,
			payload, pipeline, status, priority, dedupe_key, dedupe_window_seconds,
			max_retries, backoff, backoff_seconds, concurrency_key, next_fire_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, query,
		t.Title, t.Description, t.AgentID, t.ScheduleKind, t.ScheduleExpr, t.Timezone,
		t.Payload, pipeline, t.Status, t.Priority, t.DedupeKey, t.DedupeWindowSeconds,
		t.MaxRetries, t.Backoff, t.BackoffSeconds, t.ConcurrencyKey, t.NextFireAt,
	)

	created, err := scanTask(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateDedupe
		}
		return nil, err
	}
	return created, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id, agentID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task WHERE id = $1 AND agent_id = $2`
	row := r.pool.QueryRow(ctx, query, id, agentID)
	return scanTask(row)
}

func (r *TaskRepository) GetInternal(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanTask(row)
}

func (r *TaskRepository) List(ctx context.Context, input repository.ListTasksInput) ([]*domain.Task, error) {
	args := []any{input.AgentID}
	where := []string{"agent_id = $1"}

	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT %s FROM task
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, taskColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SetStatus transitions a task's status. Transitioning away from active
// eagerly deletes any already-enqueued due_work for it, inside the same
// transaction, per the cancellation contract.
func (r *TaskRepository) SetStatus(ctx context.Context, id, agentID string, status domain.TaskStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE task SET status = $3, updated_at = NOW() WHERE id = $1 AND agent_id = $2`,
		id, agentID, status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}

	if status != domain.TaskActive {
		if _, err := tx.Exec(ctx, `DELETE FROM due_work WHERE task_id = $1`, id); err != nil {
			return fmt.Errorf("evict due_work: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *TaskRepository) Delete(ctx context.Context, id, agentID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM task WHERE id = $1 AND agent_id = $2`, id, agentID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) LoadActive(ctx context.Context) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task WHERE status = $1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, domain.TaskActive)
	if err != nil {
		return nil, fmt.Errorf("load active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// FireDue inserts the due_work row for firingAt, advances next_fire_at, and
// — when misfireSkipped > 0 — appends a misfire_coalesced audit entry, all in
// one transaction so a crash never leaves the calendar and queue inconsistent.
func (r *TaskRepository) FireDue(ctx context.Context, taskID string, firingAt, nextFireAt time.Time, misfireSkipped int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO due_work (task_id, run_at) VALUES ($1, $2)`,
		taskID, firingAt,
	); err != nil {
		return fmt.Errorf("insert due_work: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE task SET next_fire_at = $2, updated_at = NOW() WHERE id = $1`,
		taskID, nextFireAt,
	); err != nil {
		return fmt.Errorf("advance next_fire_at: %w", err)
	}

	if misfireSkipped > 0 {
		details := fmt.Sprintf(`{"misfire_coalesced":%d}`, misfireSkipped)
		if _, err := tx.Exec(ctx,
			`INSERT INTO audit_log (actor, action, subject_id, details) VALUES ('scheduler', $1, $2, $3)`,
			domain.AuditMisfireCoalesced, taskID, details,
		); err != nil {
			return fmt.Errorf("audit misfire: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *TaskRepository) MarkUnschedulable(ctx context.Context, id string, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE task SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, domain.TaskPaused,
	); err != nil {
		return fmt.Errorf("pause task: %w", err)
	}

	details := fmt.Sprintf(`{"reason":%q}`, reason)
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (actor, action, subject_id, details) VALUES ('scheduler', $1, $2, $3)`,
		domain.AuditScheduleInvalid, id, details,
	); err != nil {
		return fmt.Errorf("audit schedule_invalid: %w", err)
	}

	return tx.Commit(ctx)
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var pipeline json.RawMessage
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.AgentID, &t.ScheduleKind, &t.ScheduleExpr, &t.Timezone,
		&t.Payload, &pipeline, &t.Status, &t.Priority, &t.DedupeKey, &t.DedupeWindowSeconds,
		&t.MaxRetries, &t.Backoff, &t.BackoffSeconds, &t.ConcurrencyKey, &t.NextFireAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if len(pipeline) > 0 {
		if err := json.Unmarshal(pipeline, &t.Pipeline); err != nil {
			return nil, fmt.Errorf("unmarshal pipeline: %w", err)
		}
	}
	return &t, nil
}
