// Package reaper implements the lease reaper: a ticker that sweeps
// task_run rows whose lease has expired without a recorded outcome, finalizes
// them as lease_expired, and either unlocks their due_work row for a retry or
// terminally removes it once the task has exhausted its retries.
package reaper

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/repository"
)

const sweepBatchSize = 100

type Reaper struct {
	runs      repository.TaskRunRepository
	dueWork   repository.DueWorkRepository
	tasks     repository.TaskRepository
	heartbeat repository.HeartbeatRepository
	audit     repository.AuditRepository

	interval         time.Duration
	heartbeatTimeout time.Duration

	logger *slog.Logger
}

func New(
	runs repository.TaskRunRepository,
	dueWork repository.DueWorkRepository,
	tasks repository.TaskRepository,
	heartbeat repository.HeartbeatRepository,
	audit repository.AuditRepository,
	interval time.Duration,
	heartbeatTimeout time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		runs:             runs,
		dueWork:          dueWork,
		tasks:            tasks,
		heartbeat:        heartbeat,
		audit:            audit,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger.With("component", "reaper"),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep finds runs whose lease has expired without a recorded outcome,
// finalizes each as lease_expired, then unlocks the stale due_work lock (for
// a would-be retry) or drops it entirely once the task has no attempts
// left. It also prunes heartbeat rows from workers long gone.
func (r *Reaper) sweep(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	staleCutoff := time.Now().Add(-r.heartbeatTimeout)

	stale, err := r.runs.ListStaleInFlight(ctx, staleCutoff, sweepBatchSize)
	if err != nil {
		r.logger.Error("list stale in-flight runs", "error", err)
		return
	}

	for _, run := range stale {
		r.reapRun(ctx, run)
	}

	if unlocked, err := r.dueWork.UnlockStale(ctx, staleCutoff); err != nil {
		r.logger.Error("unlock stale due_work", "error", err)
	} else if unlocked > 0 {
		r.logger.Info("unlocked stale due_work", "count", unlocked)
	}

	if pruned, err := r.heartbeat.PruneOlderThan(ctx, time.Now().Add(-time.Hour)); err != nil {
		r.logger.Error("prune stale heartbeats", "error", err)
	} else if pruned > 0 {
		r.logger.Info("pruned stale heartbeats", "count", pruned)
	}
}

func (r *Reaper) reapRun(ctx context.Context, run *domain.TaskRun) {
	if err := r.runs.MarkLeaseExpired(ctx, run.ID); err != nil {
		r.logger.Error("mark lease expired", "run_id", run.ID, "error", err)
		return
	}

	task, err := r.tasks.GetInternal(ctx, run.TaskID)
	if err != nil {
		r.logger.Error("load task for reaped run", "task_id", run.TaskID, "error", err)
		return
	}

	// The due_work row for this firing is still locked under the dead
	// worker's lease; UnlockStale (run once per sweep, after this loop)
	// clears it so a live worker can reclaim it for retry. Here we only
	// decide whether that retry should be allowed to happen at all.
	if run.Attempt < task.MaxRetries+1 {
		metrics.ReaperRescuedTotal.WithLabelValues("retry").Inc()
		return
	}

	if err := r.dueWork.DeleteByTask(ctx, task.ID); err != nil {
		r.logger.Error("delete due_work on terminal lease loss", "task_id", task.ID, "error", err)
		return
	}
	metrics.ReaperRescuedTotal.WithLabelValues("terminal").Inc()

	details, _ := json.Marshal(map[string]any{"run_id": run.ID, "attempt": run.Attempt})
	if err := r.audit.Append(ctx, &domain.AuditLog{
		Actor:     "reaper",
		Action:    domain.AuditTerminalLeaseLoss,
		SubjectID: task.ID,
		Details:   details,
	}); err != nil {
		r.logger.Error("append terminal_lease_loss audit", "task_id", task.ID, "error", err)
	}
}
