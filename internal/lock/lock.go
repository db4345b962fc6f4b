// Package lock serializes work on one process instance.
//
// KeyedMutex excludes callers inside one process. RedisLocker extends the
// exclusion to every engine sharing a Redis server. Guard combines the two
// the way the engine uses them.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/procflow/internal/logging"
)

// UnlockFunc releases a lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires a lock for a key. Lock blocks until the lock is held or
// ctx is done. The returned UnlockFunc must be called to release it.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// DefaultTTL bounds how long a distributed lock outlives a crashed holder.
const DefaultTTL = 30 * time.Second

// Guard runs functions under a per-key lock: always the in-process mutex,
// then the distributed locker when one is configured.
type Guard struct {
	local  *KeyedMutex
	remote Locker
	ttl    time.Duration
	logger *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithDistributed adds a distributed locker acquired after the local one.
func WithDistributed(l Locker) GuardOption {
	return func(g *Guard) {
		g.remote = l
	}
}

// WithTTL sets the TTL passed to the distributed locker.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLogger sets the logger used to report failed releases.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a Guard.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		local:  NewKeyedMutex(),
		ttl:    DefaultTTL,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithLock runs fn while holding the lock for key.
func (g *Guard) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	unlockLocal, err := g.local.Lock(ctx, key, g.ttl)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer unlockLocal(ctx)

	if g.remote != nil {
		unlock, err := g.remote.Lock(ctx, key, g.ttl)
		if err != nil {
			return fmt.Errorf("acquire distributed lock %s: %w", key, err)
		}
		defer func() {
			// A fresh context: the caller's may already be canceled.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				g.logger.Warn("release distributed lock failed (will expire via TTL)",
					"key", key,
					"error", err,
				)
			}
		}()
	}

	return fn(ctx)
}
