package locker

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/sjperalta/custodia-api/pkg/logger"
)

// RedisLocker holds locks in Redis so several API instances serialize on the
// same asset.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
}

// NewRedisLocker connects to Redis and returns a distributed locker. ttl
// bounds how long a crashed holder can keep a key.
func NewRedisLocker(ctx context.Context, addr string, ttl time.Duration) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 50,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 25 * time.Millisecond,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lock, err := l.client.Obtain(ctx, "custodia:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}

	return func() {
		// Release must run even if the request context is already done.
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn("failed to release redis lock", "key", key, "error", err)
		}
	}, nil
}
