package redis

import (
	"context"
	"fmt"
	"sync"

	"market-booking/config"

	"github.com/redis/go-redis/v9"
)

// Singleton instance variables
var (
	client     *redis.Client
	clientOnce sync.Once
)

// Initialize creates the process-wide client. Only the first call has effect.
func Initialize(cfg config.RedisConfig) *redis.Client {
	clientOnce.Do(func() {
		client = NewClient(cfg)
	})
	return client
}

// GetClient returns the singleton Redis client instance.
// Panics if Initialize() has not been called.
func GetClient() *redis.Client {
	if client == nil {
		panic("redis client not initialized. Call Initialize() first")
	}
	return client
}

// NewClient creates a new Redis client instance (not singleton - use for testing/multiple instances).
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks if Redis is available
func Ping(ctx context.Context, c *redis.Client) error {
	return c.Ping(ctx).Err()
}
