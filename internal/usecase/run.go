package usecase

import (
	"context"
	"fmt"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
)

type RunUsecase struct {
	runs  repository.TaskRunRepository
	tasks repository.TaskRepository
}

func NewRunUsecase(runs repository.TaskRunRepository, tasks repository.TaskRepository) *RunUsecase {
	return &RunUsecase{runs: runs, tasks: tasks}
}

// GetRun fetches a run by id, scoped to the agent that owns its task so one
// agent cannot read another's execution history. A run whose task belongs
// to a different agent is reported as not found, not as forbidden, so its
// existence isn't leaked.
func (u *RunUsecase) GetRun(ctx context.Context, id, agentID string) (*domain.TaskRun, error) {
	run, err := u.runs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if _, err := u.tasks.GetByID(ctx, run.TaskID, agentID); err != nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}
