package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/redis/go-redis/v9"
)

type RedisDB struct {
	Client *redis.Client
}

func NewRedisClient(cfg config.RedisConfig) (*RedisDB, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 100
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 10,
	})

	db := &RedisDB{Client: client}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return db, nil
}

// NewRedisDB wraps an existing client, used by tests running against miniredis.
func NewRedisDB(client *redis.Client) *RedisDB {
	return &RedisDB{Client: client}
}

func (db *RedisDB) Ping(ctx context.Context) error {
	if err := db.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (db *RedisDB) Close() error {
	return db.Client.Close()
}
