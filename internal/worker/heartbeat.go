package worker

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
)

// Heartbeat upserts one worker_heartbeat row per process: a single
// per-process liveness signal keyed by worker, not by the individual run
// it happens to be processing.
type Heartbeat struct {
	repo      repository.HeartbeatRepository
	workerID  string
	logger    *slog.Logger
	processed atomic.Int64
}

func newHeartbeat(repo repository.HeartbeatRepository, workerID string, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{repo: repo, workerID: workerID, logger: logger.With("component", "heartbeat")}
}

func (h *Heartbeat) RecordProcessed() {
	h.processed.Add(1)
}

func (h *Heartbeat) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	hostname, _ := os.Hostname()
	err := h.repo.Upsert(ctx, &domain.WorkerHeartbeat{
		WorkerID:  h.workerID,
		LastSeen:  time.Now(),
		Processed: h.processed.Load(),
		PID:       os.Getpid(),
		Hostname:  hostname,
	})
	if err != nil {
		h.logger.Error("heartbeat upsert", "error", err)
	}
}
