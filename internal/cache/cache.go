package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatherly/backend/internal/logger"
)

// Cache is a JSON value cache on Redis. A nil *Cache is valid and never hits.
type Cache struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// New connects to the Redis instance at redisURL (redis://host:port/db).
func New(ctx context.Context, redisURL, prefix string, log *logger.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewWithClient(ctx, redis.NewClient(opts), prefix, log)
}

// NewWithClient wraps an existing client, e.g. one shared with the notification queue.
func NewWithClient(ctx context.Context, client *redis.Client, prefix string, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.NewNop()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	log.Info(ctx, "connected to redis", map[string]interface{}{"addr": client.Options().Addr})
	return &Cache{client: client, prefix: prefix, log: log.WithComponent("cache")}, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// GetJSON decodes the cached value into dst. Errors are logged and reported as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	if c == nil {
		return false
	}
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return false
	}
	if err != nil {
		c.log.Warn(ctx, "cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		c.log.Warn(ctx, "cache entry corrupt", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return true
}

func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// Ping is used by the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
