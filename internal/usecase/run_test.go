package usecase_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/usecase"
)

type fakeRunRepoForUsecase struct {
	run *domain.TaskRun
}

func (r *fakeRunRepoForUsecase) Open(context.Context, *domain.TaskRun) (*domain.TaskRun, error) {
	return nil, nil
}
func (r *fakeRunRepoForUsecase) GetByID(_ context.Context, id string) (*domain.TaskRun, error) {
	if r.run == nil || r.run.ID != id {
		return nil, domain.ErrRunNotFound
	}
	return r.run, nil
}
func (r *fakeRunRepoForUsecase) Finalize(context.Context, string, bool, *string, *int, *string, json.RawMessage) error {
	return nil
}
func (r *fakeRunRepoForUsecase) LatestAttempt(context.Context, string) (int, error) { return 0, nil }
func (r *fakeRunRepoForUsecase) HasSuccessOnOrAfter(context.Context, string, string, time.Time, time.Time) (bool, error) {
	return false, nil
}
func (r *fakeRunRepoForUsecase) ListStaleInFlight(context.Context, time.Time, int) ([]*domain.TaskRun, error) {
	return nil, nil
}
func (r *fakeRunRepoForUsecase) MarkLeaseExpired(context.Context, string) error { return nil }

// fakeTaskRepoForRunUsecase only needs GetByID to matter for ownership
// checks; every other method is an unused stub to satisfy the interface.
type fakeTaskRepoForRunUsecase struct {
	owners map[string]string // taskID -> agentID
}

func (r *fakeTaskRepoForRunUsecase) Create(context.Context, *domain.Task) (*domain.Task, error) {
	return nil, nil
}
func (r *fakeTaskRepoForRunUsecase) GetByID(_ context.Context, id, agentID string) (*domain.Task, error) {
	if r.owners[id] != agentID {
		return nil, domain.ErrTaskNotFound
	}
	return &domain.Task{ID: id, AgentID: agentID}, nil
}
func (r *fakeTaskRepoForRunUsecase) GetInternal(context.Context, string) (*domain.Task, error) {
	return nil, domain.ErrTaskNotFound
}
func (r *fakeTaskRepoForRunUsecase) List(context.Context, repository.ListTasksInput) ([]*domain.Task, error) {
	return nil, nil
}
func (r *fakeTaskRepoForRunUsecase) SetStatus(context.Context, string, string, domain.TaskStatus) error {
	return nil
}
func (r *fakeTaskRepoForRunUsecase) Delete(context.Context, string, string) error       { return nil }
func (r *fakeTaskRepoForRunUsecase) LoadActive(context.Context) ([]*domain.Task, error) { return nil, nil }
func (r *fakeTaskRepoForRunUsecase) FireDue(context.Context, string, time.Time, time.Time, int) error {
	return nil
}
func (r *fakeTaskRepoForRunUsecase) MarkUnschedulable(context.Context, string, string) error {
	return nil
}

func TestGetRun_NotFoundWhenTaskOwnedByAnotherAgent(t *testing.T) {
	runs := &fakeRunRepoForUsecase{run: &domain.TaskRun{ID: "run-1", TaskID: "task-1"}}
	tasks := &fakeTaskRepoForRunUsecase{owners: map[string]string{"task-1": "agent-1"}}
	u := usecase.NewRunUsecase(runs, tasks)

	_, err := u.GetRun(context.Background(), "run-1", "agent-2")
	if err != domain.ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestGetRun_SucceedsForOwningAgent(t *testing.T) {
	runs := &fakeRunRepoForUsecase{run: &domain.TaskRun{ID: "run-1", TaskID: "task-1"}}
	tasks := &fakeTaskRepoForRunUsecase{owners: map[string]string{"task-1": "agent-1"}}
	u := usecase.NewRunUsecase(runs, tasks)

	got, err := u.GetRun(context.Background(), "run-1", "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "run-1" {
		t.Fatalf("expected run-1, got %s", got.ID)
	}
}
