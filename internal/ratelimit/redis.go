package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter stores attempts as expiring integer keys.
type RedisCounter struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisClient parses url and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func NewRedisCounter(rdb redis.UniversalClient, prefix string, max int, window time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: prefix, max: max, window: window}
}

func (c *RedisCounter) key(k string) string {
	return c.prefix + k
}

// Hit increments the key and pushes its expiry forward in one round trip.
func (c *RedisCounter) Hit(ctx context.Context, key string) (Attempt, error) {
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, c.key(key))
		pipe.Expire(ctx, c.key(key), c.window)
		return nil
	})
	if err != nil {
		return Attempt{}, fmt.Errorf("ratelimit hit %s: %w", key, err)
	}
	return attempt(int(incr.Val()), c.max, c.window), nil
}

func (c *RedisCounter) Peek(ctx context.Context, key string) (Attempt, error) {
	var (
		get *redis.StringCmd
		ttl *redis.DurationCmd
	)
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, c.key(key))
		ttl = pipe.TTL(ctx, c.key(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Attempt{}, fmt.Errorf("ratelimit peek %s: %w", key, err)
	}
	count, err := get.Int()
	if errors.Is(err, redis.Nil) {
		return attempt(0, c.max, 0), nil
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("ratelimit peek %s: %w", key, err)
	}
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = c.window
	}
	return attempt(count, c.max, remaining), nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit reset %s: %w", key, err)
	}
	return nil
}
