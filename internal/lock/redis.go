package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serializes a key across every process sharing the Redis instance.
// Callers in the same process queue on a local KeyedMutex first so only one of them
// polls Redis at a time.
type RedisLocker struct {
	client *redis.Client
	local  *KeyedMutex
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedisLocker builds a fleet-wide locker. ttl bounds how long a crashed holder can
// keep a key.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		local:  NewKeyedMutex(),
		prefix: "tickets:lock:",
		ttl:    ttl,
		poll:   15 * time.Millisecond,
		logger: logger,
	}
}

// Acquire takes the local lock and then the Redis lease, polling until ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := l.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			releaseLocal()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, errors.Join(ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// Release must work even if the caller's context is already done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.ttl)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("release redis lock", zap.String("key", key), zap.Error(err))
		}
		releaseLocal()
	}, nil
}
