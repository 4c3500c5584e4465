package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConcurrencyLocker gates execution of tasks sharing a concurrency_key using
// Postgres session-level advisory locks keyed by hashtext(key). Each held
// lock pins a dedicated connection checked out of the pool for the duration
// of the step pipeline; the connection is released back on Unlock.
type ConcurrencyLocker struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[string]*pgxpool.Conn
}

func NewConcurrencyLocker(pool *pgxpool.Pool) *ConcurrencyLocker {
	return &ConcurrencyLocker{
		pool:  pool,
		conns: make(map[string]*pgxpool.Conn),
	}
}

func (l *ConcurrencyLocker) TryLock(ctx context.Context, key string) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn for advisory lock: %w", err)
	}

	var acquired bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&acquired)
	if err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.mu.Lock()
	l.conns[key] = conn
	l.mu.Unlock()
	return true, nil
}

func (l *ConcurrencyLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	conn, ok := l.conns[key]
	if ok {
		delete(l.conns, key)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Release()

	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key)
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
