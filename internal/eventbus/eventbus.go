// Package eventbus is the reference integration for an optional external
// event bus: a thin Redis subscriber that turns a published event into a
// due_work row for the event/condition-kind task it names, matching the
// contract "an external publisher inserts a due_work row directly" without
// the scheduler or worker ever polling or publishing on it themselves.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
)

// Channel is the single Redis pub/sub channel this reference integration
// listens on. A real deployment with many event sources would likely
// pattern-subscribe per task or tenant; one channel keeps the reference
// implementation legible.
const Channel = "ordinaut:events"

// Message is the payload a publisher sends to trigger an event/condition
// task's firing.
type Message struct {
	TaskID string `json:"taskId"`
}

type Subscriber struct {
	client  *redis.Client
	tasks   repository.TaskRepository
	dueWork repository.DueWorkRepository
	logger  *slog.Logger
}

func New(url string, tasks repository.TaskRepository, dueWork repository.DueWorkRepository, logger *slog.Logger) (*Subscriber, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse event bus url: %w", err)
	}
	return &Subscriber{
		client:  redis.NewClient(opts),
		tasks:   tasks,
		dueWork: dueWork,
		logger:  logger.With("component", "eventbus"),
	}, nil
}

// Ping satisfies health.Pinger so the subscriber's own connection can back
// the "redis" health component.
func (s *Subscriber) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Start subscribes to Channel and processes messages until ctx is canceled.
// It blocks, so callers run it in its own goroutine.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("event bus unreachable: %w", err)
	}

	pubsub := s.client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	s.logger.Info("event bus subscriber started", "channel", Channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event bus subscriber shut down")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		s.logger.Error("decode event", "error", err)
		return
	}
	if m.TaskID == "" {
		s.logger.Error("event missing taskId")
		return
	}

	task, err := s.tasks.GetInternal(ctx, m.TaskID)
	if err != nil {
		s.logger.Error("load task for event", "task_id", m.TaskID, "error", err)
		return
	}
	if task.Status != domain.TaskActive {
		s.logger.Warn("event for non-active task ignored", "task_id", m.TaskID, "status", task.Status)
		return
	}
	if task.ScheduleKind != domain.ScheduleEvent && task.ScheduleKind != domain.ScheduleCondition {
		s.logger.Warn("event for non-event task ignored", "task_id", m.TaskID, "kind", task.ScheduleKind)
		return
	}

	if err := s.dueWork.Enqueue(ctx, task.ID, time.Now()); err != nil {
		s.logger.Error("enqueue due_work for event", "task_id", m.TaskID, "error", err)
	}
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}
