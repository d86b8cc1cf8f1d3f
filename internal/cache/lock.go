package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const lockPrefix = "lock:"

// ErrLockNotAcquired is returned when the context ends before the lock frees up
var ErrLockNotAcquired = errors.New("lock not acquired")

// only the owner token may delete the key
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serialises per-key work across engine instances.
// Each lock is a SET NX with a lease so a crashed holder cannot wedge a trip.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisLocker creates a locker whose leases last ttl
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Lock blocks until key is held or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 0 // bounded by ctx

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}

	if err := backoff.Retry(acquire, backoff.WithContext(policy, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	unlock := func() {
		// the caller's ctx may already be cancelled; release regardless
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.WithError(err).WithField("key", key).Warn("Failed to release redis lock")
		}
	}
	return unlock, nil
}
