// Package worker implements the worker runtime: a bounded pool of
// execution slots that claim due_work, gate on the task's concurrency key,
// check for dedupe, run the pipeline, and finalize the result.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/pipeline"
	"github.com/ordinaut/ordinaut/internal/repository"
)

type Runtime struct {
	id string

	dueWork   repository.DueWorkRepository
	tasks     repository.TaskRepository
	runs      repository.TaskRunRepository
	audit     repository.AuditRepository
	locker    repository.ConcurrencyLocker
	executor  *pipeline.Executor
	heartbeat *Heartbeat

	logger *slog.Logger

	concurrency   int
	pollInterval  time.Duration
	leaseDuration time.Duration

	sem chan struct{}
}

type Config struct {
	Concurrency   int
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

func New(
	dueWork repository.DueWorkRepository,
	tasks repository.TaskRepository,
	runs repository.TaskRunRepository,
	audit repository.AuditRepository,
	locker repository.ConcurrencyLocker,
	executor *pipeline.Executor,
	heartbeats repository.HeartbeatRepository,
	logger *slog.Logger,
	cfg Config,
) *Runtime {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	return &Runtime{
		id:            id,
		dueWork:       dueWork,
		tasks:         tasks,
		runs:          runs,
		audit:         audit,
		locker:        locker,
		executor:      executor,
		heartbeat:     newHeartbeat(heartbeats, id, logger),
		logger:        logger.With("component", "worker", "worker_id", id),
		concurrency:   cfg.Concurrency,
		pollInterval:  cfg.PollInterval,
		leaseDuration: cfg.LeaseDuration,
		sem:           make(chan struct{}, cfg.Concurrency),
	}
}

// Start runs the claim loop until ctx is canceled, polling at pollInterval
// and backing off to up to 1s when the queue is empty.
func (r *Runtime) Start(ctx context.Context) {
	r.logger.Info("worker started", "concurrency", r.concurrency)
	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))
	go r.heartbeat.Start(ctx, r.pollInterval*4)

	backoff := r.pollInterval

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker shut down")
			return
		default:
		}

		claimed := r.claimBatch(ctx)
		if claimed == 0 {
			backoff = minDuration(backoff*2, time.Second)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = r.pollInterval
	}
}

// claimBatch claims up to the number of free slots and dispatches each item
// to its own goroutine, returning the number claimed.
func (r *Runtime) claimBatch(ctx context.Context) int {
	free := cap(r.sem) - len(r.sem)
	if free <= 0 {
		free = 1
	}

	items, err := r.dueWork.Claim(ctx, r.id, r.leaseDuration, free)
	if err != nil {
		r.logger.Error("claim due_work", "error", err)
		return 0
	}

	for _, item := range items {
		r.sem <- struct{}{}
		metrics.WorkerJobsInFlight.Inc()
		go func(it *domain.DueWorkItem) {
			defer func() { <-r.sem; metrics.WorkerJobsInFlight.Dec() }()
			r.process(ctx, it)
		}(item)
	}
	return len(items)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// process runs the full lifecycle for a single claimed due_work item:
// concurrency gate, dedupe check, pipeline execution, and finalize.
func (r *Runtime) process(ctx context.Context, item *domain.DueWorkItem) {
	task := item.Task
	if task == nil {
		r.logger.Error("claimed due_work missing task", "due_work_id", item.ID)
		return
	}

	if task.ConcurrencyKey != nil && *task.ConcurrencyKey != "" {
		acquired, err := r.locker.TryLock(ctx, *task.ConcurrencyKey)
		if err != nil {
			r.logger.Error("concurrency lock", "task_id", task.ID, "error", err)
			return
		}
		if !acquired {
			if err := r.dueWork.Release(ctx, item.ID, time.Second); err != nil {
				r.logger.Error("release contended due_work", "due_work_id", item.ID, "error", err)
			}
			return
		}
		defer func() {
			if err := r.locker.Unlock(ctx, *task.ConcurrencyKey); err != nil {
				r.logger.Error("concurrency unlock", "task_id", task.ID, "error", err)
			}
		}()
	}

	if skip, err := r.dedupeSkip(ctx, task, item.RunAt); err != nil {
		r.logger.Error("dedupe check", "task_id", task.ID, "error", err)
	} else if skip {
		if err := r.dueWork.Delete(ctx, item.ID); err != nil {
			r.logger.Error("delete deduped due_work", "due_work_id", item.ID, "error", err)
		}
		r.appendAudit(ctx, task.ID, domain.AuditDedupeSkip, nil)
		metrics.RunsTotal.WithLabelValues("dedupe_skip").Inc()
		return
	}

	attempt, err := r.runs.LatestAttempt(ctx, task.ID)
	if err != nil {
		r.logger.Error("latest attempt", "task_id", task.ID, "error", err)
		return
	}
	attempt++

	leasedUntil := time.Now().Add(r.leaseDuration)
	run, err := r.runs.Open(ctx, &domain.TaskRun{
		TaskID:      task.ID,
		LeaseOwner:  r.id,
		LeasedUntil: &leasedUntil,
		StartedAt:   time.Now(),
		Attempt:     attempt,
	})
	if err != nil {
		r.logger.Error("open run", "task_id", task.ID, "error", err)
		return
	}

	result := r.executor.Run(ctx, task, task.Payload)
	r.heartbeat.RecordProcessed()

	var errMsg *string
	if result.Err != nil {
		msg := result.Err.Error()
		errMsg = &msg
	}

	if err := r.runs.Finalize(ctx, run.ID, result.Success, errMsg, result.StepIndex, result.StepID, result.Output); err != nil {
		r.logger.Error("finalize run", "run_id", run.ID, "task_id", task.ID, "error", err)
		return
	}

	if result.Success {
		if err := r.dueWork.Delete(ctx, item.ID); err != nil {
			r.logger.Error("delete due_work on success", "due_work_id", item.ID, "error", err)
		}
		metrics.RunsTotal.WithLabelValues("success").Inc()
		return
	}

	if result.Kind == pipeline.Terminal || attempt >= task.MaxRetries+1 {
		if err := r.dueWork.Delete(ctx, item.ID); err != nil {
			r.logger.Error("delete due_work on terminal failure", "due_work_id", item.ID, "error", err)
		}
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return
	}

	retryAt := time.Now().Add(Delay(task.Backoff, attempt, task.BackoffSeconds))
	if err := r.dueWork.Reschedule(ctx, item.ID, retryAt); err != nil {
		r.logger.Error("reschedule due_work", "due_work_id", item.ID, "error", err)
	}
	metrics.RunsTotal.WithLabelValues("retry_scheduled").Inc()
}

// dedupeSkip reports whether a second firing within the dedupe window
// whose predecessor already succeeded should be skipped without a new run.
func (r *Runtime) dedupeSkip(ctx context.Context, task *domain.Task, firingAt time.Time) (bool, error) {
	if task.DedupeKey == nil || *task.DedupeKey == "" {
		return false, nil
	}
	windowStart := firingAt.Add(-time.Duration(task.DedupeWindowSeconds) * time.Second)
	return r.runs.HasSuccessOnOrAfter(ctx, task.ID, *task.DedupeKey, windowStart, firingAt)
}

func (r *Runtime) appendAudit(ctx context.Context, taskID, action string, details json.RawMessage) {
	if err := r.audit.Append(ctx, &domain.AuditLog{
		Actor:     "worker",
		Action:    action,
		SubjectID: taskID,
		Details:   details,
	}); err != nil {
		r.logger.Error("append audit", "task_id", taskID, "action", action, "error", err)
	}
}
