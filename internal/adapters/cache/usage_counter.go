package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// usageTTL outlives a calendar month so the previous period stays readable briefly.
const usageTTL = 35 * 24 * time.Hour

func usageKey(appID, period string) string {
	return "usage:" + appID + ":" + period
}

// RedisUsageCounter keeps monthly request counts shared by every API replica.
type RedisUsageCounter struct {
	client *redis.Client
}

func NewRedisUsageCounter(client *redis.Client) *RedisUsageCounter {
	return &RedisUsageCounter{client: client}
}

func (c *RedisUsageCounter) Increment(ctx context.Context, appID, period string) (int64, error) {
	key := usageKey(appID, period)
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, usageTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisUsageCounter) Get(ctx context.Context, appID, period string) (int64, error) {
	n, err := c.client.Get(ctx, usageKey(appID, period)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// MemoryUsageCounter is the single-process counter used when Redis is not configured.
type MemoryUsageCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryUsageCounter() *MemoryUsageCounter {
	return &MemoryUsageCounter{counts: map[string]int64{}}
}

func (c *MemoryUsageCounter) Increment(_ context.Context, appID, period string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := usageKey(appID, period)
	c.counts[key]++
	return c.counts[key], nil
}

func (c *MemoryUsageCounter) Get(_ context.Context, appID, period string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[usageKey(appID, period)], nil
}
