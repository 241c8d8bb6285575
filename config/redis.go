package config

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig mirrors the teacher's pkg/redis.Config, minus the global
// singleton: relayd constructs one *redis.Client and threads it through
// explicitly, rather than a package-level var, per spec.md §5's "no
// global mutable state outside the store".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient dials Redis with the teacher's pool/timeout tuning and
// verifies the connection with a PING before returning.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 100
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: 10,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("config: redis connection failed: %w", err)
	}
	return client, nil
}
