package database

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaplan/schemaplan/apply"
)

const lockPollInterval = 250 * time.Millisecond

// AdvisoryLocker implements the application lock with Postgres advisory
// locks, so two applier processes on different machines still exclude
// each other. The lock is session-scoped: the locker pins one pooled
// connection for as long as the lock is held.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

func (l *AdvisoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	id := lockID(key)
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1);`, id).Scan(&got); err != nil {
			conn.Release()
			return nil, err
		}
		if got {
			release := func() {
				// Unlock on the same session that locked, then return the
				// connection to the pool.
				_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1);`, id)
				conn.Release()
			}
			return release, nil
		}

		if time.Now().After(deadline) {
			conn.Release()
			return nil, &apply.LockTimeout{Key: key, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func lockID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte("schemaplan:" + key))
	return int64(h.Sum64())
}
