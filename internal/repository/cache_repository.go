package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the key-value part of the fast cache: projections, subscriptions and usage counters.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// IncrWithinLimit adds amount to an existing counter unless that would exceed limit.
	// It returns ErrCacheMiss when the counter is absent so the caller can seed it.
	IncrWithinLimit(ctx context.Context, key string, amount, limit int64) (int64, bool, error)
	Ping(ctx context.Context) error
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) Cache {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Get(ctx context.Context, key string) (string, error) {
	value, err := r.redis.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (r *cacheRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.redis.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (r *cacheRepository) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.redis.Client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *cacheRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.redis.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// incrWithinLimitScript returns {status, value}: 1 incremented, 0 denied, -1 missing.
var incrWithinLimitScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1])
	if not current then
		return {-1, 0}
	end
	current = tonumber(current)
	local amount = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	if current + amount > limit then
		return {0, current}
	end
	return {1, redis.call('INCRBY', KEYS[1], amount)}
`)

func (r *cacheRepository) IncrWithinLimit(ctx context.Context, key string, amount, limit int64) (int64, bool, error) {
	result, err := incrWithinLimitScript.Run(ctx, r.redis.Client, []string{key}, amount, limit).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("unexpected script reply for %s: %v", key, result)
	}

	switch result[0] {
	case -1:
		return 0, false, ErrCacheMiss
	case 0:
		return result[1], false, nil
	default:
		return result[1], true, nil
	}
}

func (r *cacheRepository) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx)
}
