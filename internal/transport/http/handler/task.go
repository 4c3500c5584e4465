package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/usecase"
)

type TaskHandler struct {
	uc     *usecase.TaskUsecase
	logger *slog.Logger
}

func NewTaskHandler(uc *usecase.TaskUsecase, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{uc: uc, logger: logger.With("component", "task_handler")}
}

type createTaskRequest struct {
	Title        string              `json:"title" binding:"required,max=256"`
	Description  string              `json:"description"`
	ScheduleKind domain.ScheduleKind `json:"scheduleKind" binding:"required,oneof=cron rrule once event condition"`
	ScheduleExpr string              `json:"scheduleExpr" binding:"required"`
	Timezone     string              `json:"timezone"`
	Payload      json.RawMessage     `json:"payload"`
	Pipeline     domain.Pipeline     `json:"pipeline" binding:"required"`

	Priority            int                    `json:"priority" binding:"omitempty,min=1,max=9"`
	DedupeKey           *string                `json:"dedupeKey"`
	DedupeWindowSeconds int                    `json:"dedupeWindowSeconds" binding:"omitempty,min=0"`
	MaxRetries          int                    `json:"maxRetries" binding:"omitempty,min=0,max=20"`
	Backoff             domain.BackoffStrategy `json:"backoff"`
	BackoffSeconds      int                    `json:"backoffSeconds" binding:"omitempty,min=1,max=86400"`
	ConcurrencyKey      *string                `json:"concurrencyKey"`
}

type taskResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AgentID     string `json:"agentId"`

	ScheduleKind domain.ScheduleKind `json:"scheduleKind"`
	ScheduleExpr string              `json:"scheduleExpr"`
	Timezone     string              `json:"timezone"`

	Payload  json.RawMessage `json:"payload,omitempty"`
	Pipeline domain.Pipeline `json:"pipeline"`

	Status   domain.TaskStatus `json:"status"`
	Priority int               `json:"priority"`

	DedupeKey           *string `json:"dedupeKey,omitempty"`
	DedupeWindowSeconds int     `json:"dedupeWindowSeconds,omitempty"`

	MaxRetries     int                    `json:"maxRetries"`
	Backoff        domain.BackoffStrategy `json:"backoff"`
	BackoffSeconds int                    `json:"backoffSeconds,omitempty"`

	ConcurrencyKey *string `json:"concurrencyKey,omitempty"`

	NextFireAt *time.Time `json:"nextFireAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toTaskResponse(t *domain.Task) taskResponse {
	return taskResponse{
		ID:                  t.ID,
		Title:               t.Title,
		Description:         t.Description,
		AgentID:             t.AgentID,
		ScheduleKind:        t.ScheduleKind,
		ScheduleExpr:        t.ScheduleExpr,
		Timezone:            t.Timezone,
		Payload:             t.Payload,
		Pipeline:            t.Pipeline,
		Status:              t.Status,
		Priority:            t.Priority,
		DedupeKey:           t.DedupeKey,
		DedupeWindowSeconds: t.DedupeWindowSeconds,
		MaxRetries:          t.MaxRetries,
		Backoff:             t.Backoff,
		BackoffSeconds:      t.BackoffSeconds,
		ConcurrencyKey:      t.ConcurrencyKey,
		NextFireAt:          t.NextFireAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func (h *TaskHandler) writeTaskError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
	case errors.Is(err, domain.ErrDuplicateDedupe):
		ctx.JSON(http.StatusConflict, gin.H{"error": errDuplicateDedupe})
	case errors.Is(err, domain.ErrInvalidSchedule):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSchedule})
	case errors.Is(err, domain.ErrInvalidBackoff):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBackoff})
	case errors.Is(err, domain.ErrInvalidPriority):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidPriority})
	case errors.Is(err, domain.ErrInvalidPipeline):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidPipeline})
	default:
		h.logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}

func (h *TaskHandler) Create(ctx *gin.Context) {
	var req createTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.uc.CreateTask(ctx.Request.Context(), usecase.CreateTaskInput{
		AgentID:             ctx.GetString("agentID"),
		Title:               req.Title,
		Description:         req.Description,
		ScheduleKind:        req.ScheduleKind,
		ScheduleExpr:        req.ScheduleExpr,
		Timezone:            req.Timezone,
		Payload:             req.Payload,
		Pipeline:            req.Pipeline,
		Priority:            req.Priority,
		DedupeKey:           req.DedupeKey,
		DedupeWindowSeconds: req.DedupeWindowSeconds,
		MaxRetries:          req.MaxRetries,
		Backoff:             req.Backoff,
		BackoffSeconds:      req.BackoffSeconds,
		ConcurrencyKey:      req.ConcurrencyKey,
	})
	if err != nil {
		h.writeTaskError(ctx, "create task", err)
		return
	}

	ctx.JSON(http.StatusCreated, toTaskResponse(t))
}

func (h *TaskHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	t, err := h.uc.GetTask(ctx.Request.Context(), id, ctx.GetString("agentID"))
	if err != nil {
		h.writeTaskError(ctx, "get task", err)
		return
	}

	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.uc.ListTasks(ctx.Request.Context(), usecase.ListTasksInput{
		AgentID: ctx.GetString("agentID"),
		Status:  domain.TaskStatus(ctx.Query("status")),
		Cursor:  ctx.Query("cursor"),
		Limit:   limit,
	})
	if err != nil {
		h.writeTaskError(ctx, "list tasks", err)
		return
	}

	items := make([]taskResponse, len(result.Tasks))
	for i, t := range result.Tasks {
		items[i] = toTaskResponse(t)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"tasks":      items,
		"nextCursor": result.NextCursor,
	})
}

type updateTaskRequest struct {
	Status domain.TaskStatus `json:"status" binding:"required,oneof=active paused canceled"`
}

// Update sets a task's lifecycle status. pause/resume/cancel are expressed
// as PATCH {"status": ...} rather than separate action endpoints.
func (h *TaskHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	var req updateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidStatus})
		return
	}

	agentID := ctx.GetString("agentID")

	var err error
	switch req.Status {
	case domain.TaskActive:
		err = h.uc.ResumeTask(ctx.Request.Context(), id, agentID)
	case domain.TaskPaused:
		err = h.uc.PauseTask(ctx.Request.Context(), id, agentID)
	case domain.TaskCanceled:
		err = h.uc.CancelTask(ctx.Request.Context(), id, agentID)
	}
	if err != nil {
		h.writeTaskError(ctx, "update task", err)
		return
	}

	t, err := h.uc.GetTask(ctx.Request.Context(), id, agentID)
	if err != nil {
		h.writeTaskError(ctx, "get task after update", err)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.uc.DeleteTask(ctx.Request.Context(), id, ctx.GetString("agentID")); err != nil {
		h.writeTaskError(ctx, "delete task", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}
