package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/scheduleengine"
)

var validate = validator.New()

type TaskUsecase struct {
	repo repository.TaskRepository
}

func NewTaskUsecase(repo repository.TaskRepository) *TaskUsecase {
	return &TaskUsecase{repo: repo}
}

type CreateTaskInput struct {
	AgentID      string
	Title        string
	Description  string
	ScheduleKind domain.ScheduleKind
	ScheduleExpr string
	Timezone     string
	Payload      json.RawMessage
	Pipeline     domain.Pipeline

	Priority            int
	DedupeKey           *string
	DedupeWindowSeconds int
	MaxRetries          int
	Backoff             domain.BackoffStrategy
	BackoffSeconds      int
	ConcurrencyKey      *string
}

// CreateTask validates the schedule expression, pipeline shape, priority,
// and backoff strategy before persisting — unrecognized backoff values are
// a configuration error here, never silently defaulted.
func (u *TaskUsecase) CreateTask(ctx context.Context, input CreateTaskInput) (*domain.Task, error) {
	if input.ScheduleExpr == "" {
		return nil, domain.ErrInvalidSchedule
	}
	if input.Timezone == "" {
		input.Timezone = domain.DefaultTimezone
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
	}

	if input.Priority == 0 {
		input.Priority = 5
	}
	if input.Priority < 1 || input.Priority > 9 {
		return nil, domain.ErrInvalidPriority
	}

	if input.Backoff == "" {
		input.Backoff = domain.BackoffExponentialJitter
	}
	if !domain.ValidBackoff(input.Backoff) {
		return nil, domain.ErrInvalidBackoff
	}
	if input.Backoff == domain.BackoffFixed && input.BackoffSeconds <= 0 {
		input.BackoffSeconds = 30
	}
	if input.MaxRetries < 0 {
		input.MaxRetries = 0
	}

	if err := validate.Struct(&input.Pipeline); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPipeline, err)
	}

	var nextFireAt *time.Time
	if input.ScheduleKind.Firing() {
		sched, err := scheduleengine.Parse(input.ScheduleKind, input.ScheduleExpr, input.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSchedule, err)
		}
		if next, ok := sched.Next(time.Now()); ok {
			nextFireAt = &next
		}
	}

	t := &domain.Task{
		Title:               input.Title,
		Description:         input.Description,
		AgentID:             input.AgentID,
		ScheduleKind:        input.ScheduleKind,
		ScheduleExpr:        input.ScheduleExpr,
		Timezone:            input.Timezone,
		Payload:             input.Payload,
		Pipeline:            input.Pipeline,
		Status:              domain.TaskActive,
		Priority:            input.Priority,
		DedupeKey:           input.DedupeKey,
		DedupeWindowSeconds: input.DedupeWindowSeconds,
		MaxRetries:          input.MaxRetries,
		Backoff:             input.Backoff,
		BackoffSeconds:      input.BackoffSeconds,
		ConcurrencyKey:      input.ConcurrencyKey,
		NextFireAt:          nextFireAt,
	}

	created, err := u.repo.Create(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	metrics.TasksTotal.WithLabelValues(string(created.ScheduleKind)).Inc()
	return created, nil
}

func (u *TaskUsecase) GetTask(ctx context.Context, id, agentID string) (*domain.Task, error) {
	t, err := u.repo.GetByID(ctx, id, agentID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

type ListTasksInput struct {
	AgentID string
	Status  domain.TaskStatus
	Cursor  string
	Limit   int
}

type ListTasksResult struct {
	Tasks      []*domain.Task
	NextCursor *string
}

type taskCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func decodeTaskCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	var c taskCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c.CreatedAt, c.ID, nil
}

func encodeTaskCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(taskCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func (u *TaskUsecase) ListTasks(ctx context.Context, input ListTasksInput) (ListTasksResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	repoInput := repository.ListTasksInput{
		AgentID: input.AgentID,
		Status:  input.Status,
		Limit:   limit + 1,
	}

	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeTaskCursor(input.Cursor)
		if err != nil {
			return ListTasksResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidPipeline, err)
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	tasks, err := u.repo.List(ctx, repoInput)
	if err != nil {
		return ListTasksResult{}, fmt.Errorf("list tasks: %w", err)
	}

	var nextCursor *string
	if len(tasks) == limit+1 {
		last := tasks[limit]
		c := encodeTaskCursor(last.CreatedAt, last.ID)
		nextCursor = &c
		tasks = tasks[:limit]
	}

	return ListTasksResult{Tasks: tasks, NextCursor: nextCursor}, nil
}

func (u *TaskUsecase) PauseTask(ctx context.Context, id, agentID string) error {
	if err := u.repo.SetStatus(ctx, id, agentID, domain.TaskPaused); err != nil {
		return fmt.Errorf("pause task: %w", err)
	}
	return nil
}

// ResumeTask reactivates a paused task. The scheduler's next reload computes
// a fresh next_fire_at from the task's schedule, so no recomputation happens
// here.
func (u *TaskUsecase) ResumeTask(ctx context.Context, id, agentID string) error {
	if err := u.repo.SetStatus(ctx, id, agentID, domain.TaskActive); err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	return nil
}

func (u *TaskUsecase) CancelTask(ctx context.Context, id, agentID string) error {
	if err := u.repo.SetStatus(ctx, id, agentID, domain.TaskCanceled); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

func (u *TaskUsecase) DeleteTask(ctx context.Context, id, agentID string) error {
	if err := u.repo.Delete(ctx, id, agentID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
