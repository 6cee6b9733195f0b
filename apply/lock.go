package apply

import (
	"context"
	"sync"
	"time"
)

// Locker serializes applier instances per target database. Acquire blocks
// up to timeout and returns a release function; failure to acquire in
// time is a *LockTimeout.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error)
}

// MemoryLocker locks within one process. Independent target databases get
// independent keys, so worker sequences for different targets never
// contend.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]bool{}}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		if !l.held[key] {
			l.held[key] = true
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
			}, nil
		}
		l.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, &LockTimeout{Key: key, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
