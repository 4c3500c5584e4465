package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/pipeline"
	"github.com/ordinaut/ordinaut/internal/repository"
)

// fakeDueWork models the SKIP LOCKED contract in memory: Claim only ever
// returns rows that are unlocked and due, ordered by (priority DESC, run_at
// ASC, id ASC), exactly as the real SQL does.
type fakeDueWork struct {
	mu    sync.Mutex
	items map[int64]*domain.DueWorkItem
	tasks map[string]*domain.Task
	next  int64
}

func newFakeDueWork() *fakeDueWork {
	return &fakeDueWork{items: make(map[int64]*domain.DueWorkItem), tasks: make(map[string]*domain.Task)}
}

func (f *fakeDueWork) insert(task *domain.Task, runAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.tasks[task.ID] = task
	f.items[id] = &domain.DueWorkItem{ID: id, TaskID: task.ID, RunAt: runAt, Task: task}
	return id
}

func (f *fakeDueWork) Claim(_ context.Context, workerID string, leaseDuration time.Duration, limit int) ([]*domain.DueWorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var candidates []*domain.DueWorkItem
	for _, it := range f.items {
		if (it.LockedUntil == nil || it.LockedUntil.Before(now)) && !it.RunAt.After(now) {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].Task.Priority, candidates[j].Task.Priority
		if pi != pj {
			return pi > pj
		}
		if !candidates[i].RunAt.Equal(candidates[j].RunAt) {
			return candidates[i].RunAt.Before(candidates[j].RunAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	until := now.Add(leaseDuration)
	owner := workerID
	for _, it := range candidates {
		it.LockedUntil = &until
		it.LockedBy = &owner
	}
	return candidates, nil
}

func (f *fakeDueWork) Release(_ context.Context, id int64, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		it.LockedUntil = nil
		it.LockedBy = nil
		it.RunAt = it.RunAt.Add(delay)
	}
	return nil
}

func (f *fakeDueWork) Reschedule(_ context.Context, id int64, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		it.RunAt = runAt
		it.LockedUntil = nil
		it.LockedBy = nil
	}
	return nil
}

func (f *fakeDueWork) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

func (f *fakeDueWork) Enqueue(_ context.Context, taskID string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.items[f.next] = &domain.DueWorkItem{ID: f.next, TaskID: taskID, RunAt: runAt, Task: f.tasks[taskID]}
	return nil
}

func (f *fakeDueWork) DeleteByTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, it := range f.items {
		if it.TaskID == taskID {
			delete(f.items, id)
		}
	}
	return nil
}

func (f *fakeDueWork) UnlockStale(_ context.Context, staleCutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, it := range f.items {
		if it.LockedUntil != nil && it.LockedUntil.Before(staleCutoff) {
			it.LockedUntil = nil
			it.LockedBy = nil
			count++
		}
	}
	return count, nil
}

func (f *fakeDueWork) Depth(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items), nil
}

func (f *fakeDueWork) OldestRunAt(_ context.Context) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest time.Time
	found := false
	for _, it := range f.items {
		if it.LockedUntil != nil {
			continue
		}
		if !found || it.RunAt.Before(oldest) {
			oldest = it.RunAt
			found = true
		}
	}
	return oldest, found, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []*domain.TaskRun
	seq  int
}

func (f *fakeRuns) Open(_ context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *run
	cp.ID = "run-" + time.Now().Format("150405.000000") + "-" + itoa(f.seq)
	f.runs = append(f.runs, &cp)
	return &cp, nil
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%10]}, b...)
		n /= 10
	}
	return string(b)
}

func (f *fakeRuns) GetByID(_ context.Context, id string) (*domain.TaskRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (f *fakeRuns) Finalize(_ context.Context, id string, success bool, errMsg *string, stepIndex *int, stepID *string, output json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			now := time.Now()
			r.Success = &success
			r.Error = errMsg
			r.StepIndex = stepIndex
			r.StepID = stepID
			r.Output = output
			r.FinishedAt = &now
			return nil
		}
	}
	return domain.ErrRunNotFound
}

func (f *fakeRuns) LatestAttempt(_ context.Context, taskID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, r := range f.runs {
		if r.TaskID == taskID && r.Attempt > max {
			max = r.Attempt
		}
	}
	return max, nil
}

func (f *fakeRuns) HasSuccessOnOrAfter(_ context.Context, taskID, _ string, windowStart, firingAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.TaskID == taskID && r.Success != nil && *r.Success &&
			!r.StartedAt.Before(windowStart) && r.StartedAt.Before(firingAt) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRuns) ListStaleInFlight(_ context.Context, staleCutoff time.Time, limit int) ([]*domain.TaskRun, error) {
	return nil, nil
}

func (f *fakeRuns) MarkLeaseExpired(_ context.Context, id string) error {
	msg := "lease_expired"
	success := false
	return f.Finalize(context.Background(), id, success, &msg, nil, nil, nil)
}

type fakeLocker struct {
	mu     sync.Mutex
	locked map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{locked: make(map[string]bool)} }

func (f *fakeLocker) TryLock(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[key] {
		return false, nil
	}
	f.locked[key] = true
	return true, nil
}

func (f *fakeLocker) Unlock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, key)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func (f *fakeAudit) Append(_ context.Context, entry *domain.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakeHeartbeats struct{}

func (fakeHeartbeats) Upsert(context.Context, *domain.WorkerHeartbeat) error   { return nil }
func (fakeHeartbeats) FreshCount(context.Context, time.Duration) (int, error) { return 1, nil }
func (fakeHeartbeats) PruneOlderThan(context.Context, time.Time) (int, error) { return 0, nil }

type stubInvoker struct {
	mu         sync.Mutex
	calls      []string
	failCount  map[string]int
	termFailed map[string]bool
}

func (s *stubInvoker) Invoke(_ context.Context, tool string, _ json.RawMessage, _ time.Duration) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, tool)
	if s.termFailed[tool] {
		return nil, errors.New("400 bad request")
	}
	if s.failCount[tool] > 0 {
		s.failCount[tool]--
		return nil, &pipeline.RetryableHTTPError{Err: context.DeadlineExceeded}
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuntime(t *testing.T, dueWork *fakeDueWork, runs *fakeRuns, locker repository.ConcurrencyLocker, invoker *stubInvoker) *Runtime {
	t.Helper()
	exec := pipeline.NewExecutor(invoker, testLogger())
	return New(dueWork, nil, runs, &fakeAudit{}, locker, exec, fakeHeartbeats{}, testLogger(), Config{
		Concurrency:   4,
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Minute,
	})
}

func taskWith(id string, priority int, maxRetries int, backoff domain.BackoffStrategy, concurrencyKey string) *domain.Task {
	var ck *string
	if concurrencyKey != "" {
		ck = &concurrencyKey
	}
	return &domain.Task{
		ID:         id,
		Priority:   priority,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		ConcurrencyKey: ck,
		Pipeline: domain.Pipeline{
			Steps: []domain.Step{{ID: "s1", Tool: "http://tool/" + id}},
		},
	}
}

// attempt strictly increases across retries of the same firing.
func TestRuntime_RetryMonotonicity(t *testing.T) {
	dueWork := newFakeDueWork()
	runs := &fakeRuns{}
	invoker := &stubInvoker{failCount: map[string]int{"http://tool/t1": 2}}
	rt := newRuntime(t, dueWork, runs, newFakeLocker(), invoker)

	task := taskWith("t1", 5, 3, domain.BackoffFixed, "")
	id := dueWork.insert(task, time.Now().Add(-time.Second))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		items, err := dueWork.Claim(ctx, "w1", time.Minute, 1)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("round %d: expected 1 claimable item, got %d", i, len(items))
		}
		runtimeProcess(t, rt, items[0])
		// force the run_at back into the past so the next Claim picks it up
		dueWork.mu.Lock()
		if it, ok := dueWork.items[id]; ok {
			it.RunAt = time.Now().Add(-time.Second)
		}
		dueWork.mu.Unlock()
	}

	if len(runs.runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs.runs))
	}
	for i, r := range runs.runs {
		if r.Attempt != i+1 {
			t.Fatalf("expected attempt %d, got %d", i+1, r.Attempt)
		}
	}
	if !*runs.runs[2].Success {
		t.Fatal("expected the third attempt to succeed")
	}
}

// A terminal failure (e.g. a 4xx from a tool) deletes the due_work row on
// the first attempt, even though retries remain, and is never rescheduled.
func TestRuntime_TerminalFailureDeletesImmediately(t *testing.T) {
	dueWork := newFakeDueWork()
	runs := &fakeRuns{}
	invoker := &stubInvoker{termFailed: map[string]bool{"http://tool/t1": true}}
	rt := newRuntime(t, dueWork, runs, newFakeLocker(), invoker)

	task := taskWith("t1", 5, 3, domain.BackoffFixed, "")
	id := dueWork.insert(task, time.Now().Add(-time.Second))

	ctx := context.Background()
	items, err := dueWork.Claim(ctx, "w1", time.Minute, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 claimable item, got %d", len(items))
	}
	runtimeProcess(t, rt, items[0])

	if len(runs.runs) != 1 {
		t.Fatalf("expected exactly 1 task_run, got %d", len(runs.runs))
	}
	if *runs.runs[0].Success {
		t.Fatal("expected the run to have failed")
	}
	if _, ok := dueWork.items[id]; ok {
		t.Fatal("expected the due_work row to be deleted immediately")
	}
	if len(invoker.calls) != 1 {
		t.Fatalf("expected no retry invocation, got %d calls", len(invoker.calls))
	}
}

// Given two ready items with different priorities and no contention, the
// higher-priority item claims first.
func TestRuntime_PriorityOrdering(t *testing.T) {
	dueWork := newFakeDueWork()
	now := time.Now().Add(-time.Second)
	low := taskWith("low", 1, 0, domain.BackoffFixed, "")
	high := taskWith("high", 9, 0, domain.BackoffFixed, "")
	dueWork.insert(low, now)
	dueWork.insert(high, now)

	items, err := dueWork.Claim(context.Background(), "w1", time.Minute, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(items) != 1 || items[0].TaskID != "high" {
		t.Fatalf("expected high-priority task claimed first, got %+v", items)
	}
}

// Tasks sharing a concurrency key never execute simultaneously.
func TestRuntime_ConcurrencyKeyMutualExclusion(t *testing.T) {
	dueWork := newFakeDueWork()
	runs := &fakeRuns{}
	invoker := &stubInvoker{}
	locker := newFakeLocker()
	rt := newRuntime(t, dueWork, runs, locker, invoker)

	taskA := taskWith("a", 5, 0, domain.BackoffFixed, "shared")
	taskB := taskWith("b", 5, 0, domain.BackoffFixed, "shared")
	now := time.Now().Add(-time.Second)
	dueWork.insert(taskA, now)
	dueWork.insert(taskB, now)

	items, err := dueWork.Claim(context.Background(), "w1", time.Minute, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected both claimed, got %d", len(items))
	}

	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(item *domain.DueWorkItem) {
			defer wg.Done()
			runtimeProcess(t, rt, item)
		}(it)
	}
	wg.Wait()

	// exactly one of the two should have executed (the other released back
	// to the queue because the lock was contended)
	if len(runs.runs) != 1 {
		t.Fatalf("expected exactly 1 run under contention, got %d", len(runs.runs))
	}
}

// A second firing within the dedupe window records no new successful run.
func TestRuntime_DedupeSkipsSecondFiring(t *testing.T) {
	dueWork := newFakeDueWork()
	runs := &fakeRuns{}
	invoker := &stubInvoker{}
	rt := newRuntime(t, dueWork, runs, newFakeLocker(), invoker)

	key := "dedupe-key"
	task := taskWith("t1", 5, 0, domain.BackoffFixed, "")
	task.DedupeKey = &key
	task.DedupeWindowSeconds = 3600

	firstRunAt := time.Now().Add(-time.Minute)
	dueWork.insert(task, firstRunAt)

	ctx := context.Background()
	items, _ := dueWork.Claim(ctx, "w1", time.Minute, 1)
	runtimeProcess(t, rt, items[0])
	if len(runs.runs) != 1 || !*runs.runs[0].Success {
		t.Fatalf("expected first firing to succeed, got %+v", runs.runs)
	}

	// The second firing comes due after the first run started.
	secondID := dueWork.insert(task, time.Now())
	items, _ = dueWork.Claim(ctx, "w1", time.Minute, 1)
	if len(items) != 1 || items[0].ID != secondID {
		t.Fatalf("expected second firing claimable, got %+v", items)
	}
	runtimeProcess(t, rt, items[0])

	if len(runs.runs) != 1 {
		t.Fatalf("expected no new run from the deduped firing, got %d runs", len(runs.runs))
	}
	if _, ok := dueWork.items[secondID]; ok {
		t.Fatal("expected the deduped due_work row to be deleted")
	}
}

// runtimeProcess drives a single claimed item through the same unexported
// path Start's claim loop uses, synchronously so assertions can run right
// after.
func runtimeProcess(t *testing.T, rt *Runtime, item *domain.DueWorkItem) {
	t.Helper()
	rt.process(context.Background(), item)
}
