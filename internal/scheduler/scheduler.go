// Package scheduler implements the single-writer scheduler loop: an
// in-memory calendar of next-firing instants, woken by a timer set to the
// earliest entry rather than by polling, that inserts due_work rows as
// firings come due and periodically reloads the active task set from the
// store so pause/resume/create/cancel take effect without a restart.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/scheduleengine"
)

// maxMisfireCatchup bounds how many catch-up firings get coalesced into the
// single due_work row inserted when the loop falls behind its calendar: at
// most one row, with the rest recorded as a count.
const maxMisfireCatchup = 100000

type Scheduler struct {
	taskRepo repository.TaskRepository
	dueWork  repository.DueWorkRepository
	logger   *slog.Logger

	reloadInterval time.Duration

	cal       *calendar
	schedules map[string]scheduleengine.Schedule
}

// New builds a Scheduler. Audit entries for misfire coalescing and
// unschedulable tasks are written by taskRepo itself (FireDue/
// MarkUnschedulable), inside the same transaction as the state change they
// describe, so the scheduler holds no audit dependency of its own.
func New(taskRepo repository.TaskRepository, dueWork repository.DueWorkRepository, logger *slog.Logger, reloadInterval time.Duration) *Scheduler {
	return &Scheduler{
		taskRepo:       taskRepo,
		dueWork:        dueWork,
		logger:         logger.With("component", "scheduler"),
		reloadInterval: reloadInterval,
		cal:            newCalendar(),
		schedules:      make(map[string]scheduleengine.Schedule),
	}
}

// Start loads the active task set, builds the calendar, and runs the loop
// until ctx is canceled. It is meant to run in exactly one process; running
// two concurrently would double-insert due_work rows, since there is no
// store-side mutual exclusion at this layer (see DESIGN.md).
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return err
	}

	reload := time.NewTicker(s.reloadInterval)
	defer reload.Stop()

	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler shut down")
			return nil
		case <-timer.C:
			s.fireDue(ctx)
			metrics.SchedulerLag.Set(s.LagSeconds())
			if depth, err := s.dueWork.Depth(ctx); err == nil {
				metrics.DueWorkQueueDepth.Set(float64(depth))
			}
		case <-reload.C:
			timer.Stop()
			if err := s.reload(ctx); err != nil {
				s.logger.Error("scheduler reload", "error", err)
			}
		}
	}
}

// nextWait returns how long to sleep until the earliest calendar entry, or
// the reload interval if the calendar is empty, so the loop still wakes
// periodically even with zero active tasks.
func (s *Scheduler) nextWait() time.Duration {
	e, ok := s.cal.Peek()
	if !ok {
		return s.reloadInterval
	}
	wait := time.Until(e.fireAt)
	if wait < 0 {
		return 0
	}
	return wait
}

// reload re-reads the active task set from the store, parses each schedule,
// and rebuilds the calendar. Tasks whose schedule fails to parse are marked
// unschedulable rather than dropped silently.
func (s *Scheduler) reload(ctx context.Context) error {
	tasks, err := s.taskRepo.LoadActive(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(tasks))
	now := time.Now()

	for _, t := range tasks {
		seen[t.ID] = true

		if !t.ScheduleKind.Firing() {
			continue
		}

		sched, err := scheduleengine.Parse(t.ScheduleKind, t.ScheduleExpr, t.Timezone)
		if err != nil {
			s.logger.Error("unschedulable task", "task_id", t.ID, "error", err)
			if markErr := s.taskRepo.MarkUnschedulable(ctx, t.ID, err.Error()); markErr != nil {
				s.logger.Error("mark unschedulable", "task_id", t.ID, "error", markErr)
			}
			continue
		}
		s.schedules[t.ID] = sched

		anchor := now
		if t.NextFireAt != nil && t.NextFireAt.After(now) {
			anchor = *t.NextFireAt
			s.cal.Upsert(t.ID, anchor)
			continue
		}

		next, ok := sched.Next(anchor)
		if !ok {
			continue
		}
		s.cal.Upsert(t.ID, next)
	}

	// drop anything no longer active (paused/canceled/deleted since last reload)
	for taskID := range s.schedules {
		if !seen[taskID] {
			delete(s.schedules, taskID)
			s.cal.Remove(taskID)
		}
	}

	return nil
}

// fireDue pops every calendar entry that has come due, records the firing,
// and re-inserts the task's next firing. A schedule that produced multiple
// due instants while the running loop was late is coalesced into a single
// due_work row, with the skipped count recorded as a misfire_coalesced audit
// entry. Firings missed while the process was down are not caught up: reload
// schedules a task whose stored next_fire_at has passed from the current time.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	due := s.cal.PopDue(now)

	for _, e := range due {
		sched, ok := s.schedules[e.taskID]
		if !ok {
			continue
		}

		firingAt := e.fireAt
		misfireSkipped := 0

		next, ok := sched.Next(firingAt)
		for ok && next.Before(now) && misfireSkipped < maxMisfireCatchup {
			misfireSkipped++
			next, ok = sched.Next(next)
		}

		if err := s.taskRepo.FireDue(ctx, e.taskID, firingAt, orZero(next, ok), misfireSkipped); err != nil {
			s.logger.Error("fire due", "task_id", e.taskID, "error", err)
			// retry next loop iteration rather than losing the entry
			s.cal.Upsert(e.taskID, now.Add(time.Second))
			continue
		}

		if misfireSkipped > 0 {
			s.logger.Warn("misfire coalesced", "task_id", e.taskID, "skipped", misfireSkipped)
		}

		if ok {
			s.cal.Upsert(e.taskID, next)
		} else {
			delete(s.schedules, e.taskID)
		}
	}
}

func orZero(t time.Time, ok bool) time.Time {
	if !ok {
		return time.Time{}
	}
	return t
}

// LagSeconds reports how far behind the earliest due firing the scheduler
// currently is, for the orchestrator_scheduler_lag_seconds gauge. A nonzero
// value under normal load means fireDue hasn't caught up with the calendar.
func (s *Scheduler) LagSeconds() float64 {
	e, ok := s.cal.Peek()
	if !ok {
		return 0
	}
	lag := time.Since(e.fireAt).Seconds()
	if lag < 0 {
		return 0
	}
	return lag
}
