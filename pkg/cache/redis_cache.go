package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds every single cache round trip.
	Timeout time.Duration
}

// RedisCache implements Cache with plain Redis strings and per-key TTL.
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisCache connects lazily; the first command opens the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("cache redis addr is required")
	}
	return NewRedisCacheFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Timeout), nil
}

// NewRedisCacheFromClient wraps an existing client so it can be shared with other Redis users.
func NewRedisCacheFromClient(client *redis.Client, timeout time.Duration) *RedisCache {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisCache{client: client, timeout: timeout}
}

// Client exposes the underlying client.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Get returns the cached value. A missing key is reported as (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set replaces any existing value for key.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete reports whether a key was actually removed.
func (c *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	n, err := c.client.Del(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
