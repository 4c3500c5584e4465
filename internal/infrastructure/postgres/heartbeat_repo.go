package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ordinaut/ordinaut/internal/domain"
)

type HeartbeatRepository struct {
	pool *pgxpool.Pool
}

func NewHeartbeatRepository(pool *pgxpool.Pool) *HeartbeatRepository {
	return &HeartbeatRepository{pool: pool}
}

func (r *HeartbeatRepository) Upsert(ctx context.Context, hb *domain.WorkerHeartbeat) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO worker_heartbeat (worker_id, last_seen, processed, pid, hostname)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (worker_id) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			processed = EXCLUDED.processed,
			pid = EXCLUDED.pid,
			hostname = EXCLUDED.hostname`,
		hb.WorkerID, hb.LastSeen, hb.Processed, hb.PID, hb.Hostname)
	if err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	return nil
}

func (r *HeartbeatRepository) FreshCount(ctx context.Context, within time.Duration) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM worker_heartbeat WHERE last_seen > NOW() - $1::interval`,
		within,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("fresh heartbeat count: %w", err)
	}
	return count, nil
}

func (r *HeartbeatRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM worker_heartbeat WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune heartbeats: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
