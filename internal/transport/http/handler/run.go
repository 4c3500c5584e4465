package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/usecase"
)

type RunHandler struct {
	uc     *usecase.RunUsecase
	logger *slog.Logger
}

func NewRunHandler(uc *usecase.RunUsecase, logger *slog.Logger) *RunHandler {
	return &RunHandler{uc: uc, logger: logger.With("component", "run_handler")}
}

// runResponse mirrors the outcome surface every run exposes regardless of
// how it finished: {success, error, step_index?, step_id?} plus the rest of
// the run's bookkeeping fields.
type runResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`

	Success *bool   `json:"success"`
	Error   *string `json:"error,omitempty"`

	StepIndex *int    `json:"step_index,omitempty"`
	StepID    *string `json:"step_id,omitempty"`

	Attempt int             `json:"attempt"`
	Output  json.RawMessage `json:"output,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func toRunResponse(r *domain.TaskRun) runResponse {
	return runResponse{
		ID:         r.ID,
		TaskID:     r.TaskID,
		Success:    r.Success,
		Error:      r.Error,
		StepIndex:  r.StepIndex,
		StepID:     r.StepID,
		Attempt:    r.Attempt,
		Output:     r.Output,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func (h *RunHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	run, err := h.uc.GetRun(ctx.Request.Context(), id, ctx.GetString("agentID"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errRunNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "get run", "run_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toRunResponse(run))
}
