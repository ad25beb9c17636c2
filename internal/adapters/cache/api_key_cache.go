package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/viralforge/referral-platform/internal/domain"
)

// APIKeyCache holds recently authenticated apps by key hash. Entries expire so a
// status change made by another replica is picked up within the TTL.
type APIKeyCache struct {
	lru *expirable.LRU[string, domain.App]
}

func NewAPIKeyCache(size int, ttl time.Duration) *APIKeyCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &APIKeyCache{lru: expirable.NewLRU[string, domain.App](size, nil, ttl)}
}

func (c *APIKeyCache) Get(hash string) (domain.App, bool) {
	return c.lru.Get(hash)
}

func (c *APIKeyCache) Add(hash string, app domain.App) {
	c.lru.Add(hash, app)
}

func (c *APIKeyCache) Remove(hash string) {
	c.lru.Remove(hash)
}
