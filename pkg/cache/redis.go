// Package cache wraps the Redis client used as the fast blacklist tier.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a thin wrapper over go-redis with a periodically refreshed
// health flag. The cache is purely additive: it may be flushed or go away at
// any time without correctness impact, and a cache that recovers mid-process
// is picked up again by the next probe.
type RedisCache struct {
	client        *redis.Client
	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time
	healthy   bool
}

// New connects to Redis. An unreachable Redis is not a startup error; the
// cache simply reports unhealthy until a probe succeeds.
func New(url, password string, db int, probeInterval time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	c := &RedisCache{
		client:        client,
		probeInterval: probeInterval,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.healthy = client.Ping(ctx).Err() == nil
	c.lastProbe = time.Now()

	return c
}

// Healthy reports whether the cache should be used right now. The underlying
// ping runs at most once per probe interval; between probes the last result
// is reused.
func (c *RedisCache) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastProbe) < c.probeInterval {
		return c.healthy
	}

	c.healthy = c.client.Ping(ctx).Err() == nil
	c.lastProbe = time.Now()
	return c.healthy
}

// markUnhealthy records an operation failure so callers stop hitting a dead
// cache before the next scheduled probe.
func (c *RedisCache) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.lastProbe = time.Now()
	c.mu.Unlock()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		c.markUnhealthy()
		return err
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.markUnhealthy()
		}
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Exists reports whether the key is present. Absence only means "unknown"
// to blacklist callers; only a positive hit is trusted.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.markUnhealthy()
		return false, err
	}
	return result > 0, nil
}

func (c *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

func (c *RedisCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.client.Expire(ctx, key, expiration).Err()
}

// Client exposes the raw client for middleware that shares the connection.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
