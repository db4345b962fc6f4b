package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned by an UnlockFunc when the lock expired or was
// taken over before it was released.
var ErrLockLost = errors.New("distributed lock no longer held")

// DefaultPollInterval is how often a contended RedisLocker retries.
const DefaultPollInterval = 100 * time.Millisecond

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker is a Locker backed by Redis SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	poll   time.Duration
}

// NewRedisLocker creates a RedisLocker. Keys are stored as
// prefix + "lock:" + key.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: prefix,
		poll:   DefaultPollInterval,
	}
}

// WithPollInterval returns a copy of l that retries every d.
func (l *RedisLocker) WithPollInterval(d time.Duration) *RedisLocker {
	cp := *l
	if d > 0 {
		cp.poll = d
	}
	return &cp
}

// Lock tries to take the lock immediately, then polls until it is free or
// ctx is done. Each acquisition stores a fresh token so only the holder
// can release it.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key

	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	val := token.String()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis acquire %s: %w", lockKey, err)
		}
		if ok {
			return func(ctx context.Context) error {
				n, err := unlockScript.Run(ctx, l.client, []string{lockKey}, val).Int()
				if err != nil {
					return fmt.Errorf("redis release %s: %w", lockKey, err)
				}
				if n == 0 {
					return ErrLockLost
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
