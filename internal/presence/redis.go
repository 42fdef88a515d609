package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "tickets:presence:user:"
	staffSetKey   = "tickets:presence:staff"
)

// RedisTracker shares presence between processes. Each online user is a key with a TTL
// that the host refreshes by calling SetOnline again; staff are also kept in a set
// that is pruned lazily when their key has expired.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker builds a tracker whose entries expire after ttl without a refresh.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (r *RedisTracker) IsReachable(ctx context.Context, user uuid.UUID) (bool, error) {
	n, err := r.client.Exists(ctx, userKeyPrefix+user.String()).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n == 1, nil
}

func (r *RedisTracker) OnlineStaff(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, staffSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list staff presence: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, member := range members {
		checks[i] = pipe.Exists(ctx, userKeyPrefix+member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check staff presence: %w", err)
	}

	var online []uuid.UUID
	var stale []any
	for i, member := range members {
		if checks[i].Val() == 0 {
			stale = append(stale, member)
			continue
		}
		id, err := uuid.Parse(member)
		if err != nil {
			stale = append(stale, member)
			continue
		}
		online = append(online, id)
	}
	if len(stale) > 0 {
		_ = r.client.SRem(ctx, staffSetKey, stale...).Err()
	}
	return online, nil
}

func (r *RedisTracker) SetOnline(ctx context.Context, user uuid.UUID, staff bool) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKeyPrefix+user.String(), staff, r.ttl)
		if staff {
			pipe.SAdd(ctx, staffSetKey, user.String())
		} else {
			pipe.SRem(ctx, staffSetKey, user.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (r *RedisTracker) SetOffline(ctx context.Context, user uuid.UUID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKeyPrefix+user.String())
		pipe.SRem(ctx, staffSetKey, user.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}
