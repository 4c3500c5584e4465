package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
)

type fakeTasks struct {
	tasks map[string]*domain.Task
}

func (f *fakeTasks) Create(context.Context, *domain.Task) (*domain.Task, error)    { return nil, nil }
func (f *fakeTasks) GetByID(context.Context, string, string) (*domain.Task, error) { return nil, nil }
func (f *fakeTasks) GetInternal(_ context.Context, id string) (*domain.Task, error) {
	return f.tasks[id], nil
}
func (f *fakeTasks) List(context.Context, repository.ListTasksInput) ([]*domain.Task, error) {
	return nil, nil
}
func (f *fakeTasks) SetStatus(context.Context, string, string, domain.TaskStatus) error { return nil }
func (f *fakeTasks) Delete(context.Context, string, string) error                      { return nil }
func (f *fakeTasks) LoadActive(context.Context) ([]*domain.Task, error)                { return nil, nil }
func (f *fakeTasks) FireDue(context.Context, string, time.Time, time.Time, int) error   { return nil }
func (f *fakeTasks) MarkUnschedulable(context.Context, string, string) error            { return nil }

type fakeDueWork struct {
	enqueued []string
}

func (f *fakeDueWork) Claim(context.Context, string, time.Duration, int) ([]*domain.DueWorkItem, error) {
	return nil, nil
}
func (f *fakeDueWork) Release(context.Context, int64, time.Duration) error { return nil }
func (f *fakeDueWork) Reschedule(context.Context, int64, time.Time) error  { return nil }
func (f *fakeDueWork) Delete(context.Context, int64) error                 { return nil }
func (f *fakeDueWork) DeleteByTask(context.Context, string) error          { return nil }
func (f *fakeDueWork) UnlockStale(context.Context, time.Time) (int, error) { return 0, nil }
func (f *fakeDueWork) Depth(context.Context) (int, error)                  { return 0, nil }
func (f *fakeDueWork) OldestRunAt(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (f *fakeDueWork) Enqueue(_ context.Context, taskID string, _ time.Time) error {
	f.enqueued = append(f.enqueued, taskID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle_EnqueuesForActiveEventTask(t *testing.T) {
	tasks := &fakeTasks{tasks: map[string]*domain.Task{
		"t1": {ID: "t1", Status: domain.TaskActive, ScheduleKind: domain.ScheduleEvent},
	}}
	dueWork := &fakeDueWork{}
	s := &Subscriber{tasks: tasks, dueWork: dueWork, logger: testLogger()}

	s.handle(context.Background(), `{"taskId":"t1"}`)

	if len(dueWork.enqueued) != 1 || dueWork.enqueued[0] != "t1" {
		t.Fatalf("expected due_work enqueued for t1, got %v", dueWork.enqueued)
	}
}

func TestHandle_IgnoresPausedTask(t *testing.T) {
	tasks := &fakeTasks{tasks: map[string]*domain.Task{
		"t1": {ID: "t1", Status: domain.TaskPaused, ScheduleKind: domain.ScheduleEvent},
	}}
	dueWork := &fakeDueWork{}
	s := &Subscriber{tasks: tasks, dueWork: dueWork, logger: testLogger()}

	s.handle(context.Background(), `{"taskId":"t1"}`)

	if len(dueWork.enqueued) != 0 {
		t.Fatalf("expected no enqueue for a paused task, got %v", dueWork.enqueued)
	}
}

func TestHandle_IgnoresNonEventKind(t *testing.T) {
	tasks := &fakeTasks{tasks: map[string]*domain.Task{
		"t1": {ID: "t1", Status: domain.TaskActive, ScheduleKind: domain.ScheduleCron},
	}}
	dueWork := &fakeDueWork{}
	s := &Subscriber{tasks: tasks, dueWork: dueWork, logger: testLogger()}

	s.handle(context.Background(), `{"taskId":"t1"}`)

	if len(dueWork.enqueued) != 0 {
		t.Fatalf("expected no enqueue for a cron-kind task, got %v", dueWork.enqueued)
	}
}

func TestHandle_MalformedPayloadIgnored(t *testing.T) {
	dueWork := &fakeDueWork{}
	s := &Subscriber{tasks: &fakeTasks{tasks: map[string]*domain.Task{}}, dueWork: dueWork, logger: testLogger()}

	s.handle(context.Background(), `not json`)

	if len(dueWork.enqueued) != 0 {
		t.Fatalf("expected no enqueue for malformed payload, got %v", dueWork.enqueued)
	}
}
