package repository

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// HeartbeatRepository tracks worker liveness.
type HeartbeatRepository interface {
	Upsert(ctx context.Context, hb *domain.WorkerHeartbeat) error

	// FreshCount returns how many workers have heartbeated within the window
	// ending now — used by GET /health/ready.
	FreshCount(ctx context.Context, within time.Duration) (int, error)

	// PruneOlderThan deletes heartbeat rows whose last_seen predates cutoff.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
