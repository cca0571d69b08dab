package override

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WindowCounter counts override grants per (pattern, authority) key over
// a sliding window. Increment returns the count including the new grant;
// concurrent increments must not lose updates.
type WindowCounter interface {
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
}

// MemoryCounter is the in-process counter.
type MemoryCounter struct {
	mu     sync.Mutex
	grants map[string][]time.Time
}

// NewMemoryCounter builds an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{grants: make(map[string][]time.Time)}
}

func (c *MemoryCounter) Increment(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-window)
	kept := c.grants[key][:0]
	for _, ts := range c.grants[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	c.grants[key] = kept
	return len(kept), nil
}

// redisWindowScript prunes expired grants and records the new one in a
// single atomic round trip.
// KEYS[1] = counter key
// ARGV[1] = now (unix micros)
// ARGV[2] = window (micros)
// ARGV[3] = unique member id
var redisWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
redis.call("ZADD", key, now, ARGV[3])
redis.call("PEXPIRE", key, math.ceil(window / 1000))
return redis.call("ZCARD", key)
`)

// RedisCounter shares the sliding window across gateway instances.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter connects to redis at addr.
func NewRedisCounter(addr, password string, db int) *RedisCounter {
	return &RedisCounter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: "override:window:",
	}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	res, err := redisWindowScript.Run(ctx, c.client,
		[]string{c.prefix + key},
		now.UnixMicro(), window.Microseconds(), uuid.NewString(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis override counter: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected counter response %T", res)
	}
	return int(count), nil
}

// Close releases the redis connection.
func (c *RedisCounter) Close() error { return c.client.Close() }
