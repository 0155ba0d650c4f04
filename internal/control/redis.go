package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "syncservice:signal:"

// Redis is the Channel used when task execution and the control API run as
// separate processes. Signals expire after ttl so an abandoned instruction
// cannot strand a future run of the same task id.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a redis-backed signal channel.
func NewRedis(rdb *redis.Client, ttl time.Duration) (*Redis, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (r *Redis) Set(ctx context.Context, taskID string, s Signal) error {
	if s == SignalNone {
		return r.Clear(ctx, taskID)
	}
	if err := r.rdb.Set(ctx, keyPrefix+taskID, string(s), r.ttl).Err(); err != nil {
		return fmt.Errorf("signal set: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, taskID string) (Signal, error) {
	val, err := r.rdb.Get(ctx, keyPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return SignalNone, nil
	}
	if err != nil {
		return SignalNone, fmt.Errorf("signal get: %w", err)
	}
	return Signal(val), nil
}

func (r *Redis) Clear(ctx context.Context, taskID string) error {
	if err := r.rdb.Del(ctx, keyPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("signal clear: %w", err)
	}
	return nil
}
