// Package idempotency stops a client from placing the same order twice when
// it retries POST /orders with the same Idempotency-Key header.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Guard claims a key for one user. Claim returns false when the key was
// already claimed and not released.
type Guard interface {
	Claim(ctx context.Context, userID, key string) (bool, error)
	Release(ctx context.Context, userID, key string) error
}

type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func redisKey(userID, key string) string {
	return fmt.Sprintf("idempotency:orders:%s:%s", userID, key)
}

func (g *RedisGuard) Claim(ctx context.Context, userID, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, redisKey(userID, key), "claimed", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, userID, key string) error {
	if err := g.rdb.Del(ctx, redisKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Noop accepts every key. Used when Redis is not configured.
type Noop struct{}

func (Noop) Claim(context.Context, string, string) (bool, error) { return true, nil }

func (Noop) Release(context.Context, string, string) error { return nil }
