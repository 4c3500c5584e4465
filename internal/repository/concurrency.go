package repository

import "context"

// ConcurrencyLocker gates execution of tasks sharing a concurrency_key using
// the store's advisory locks — no in-memory state is shared between workers.
type ConcurrencyLocker interface {
	// TryLock attempts to acquire the advisory lock for key without blocking.
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}
