/**
 * @description
 * This package provides a small expiring key/value cache for short-lived secrets such
 * as upstream gateway access tokens and settled-transaction markers. Two backends are
 * offered: Redis for shared deployments and an in-process map for single instances.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 */
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "settlement:cache"

var ErrInvalidTTL = errors.New("cache ttl must be positive")

// Cache stores values that expire after a TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// FetchFunc produces a fresh value and how long it stays valid.
type FetchFunc func(ctx context.Context) (string, time.Duration, error)

// GetOrFetch returns the cached value for key or stores the result of fetch.
func GetOrFetch(ctx context.Context, cache Cache, key string, fetch FetchFunc) (string, error) {
	if value, ok, err := cache.Get(ctx, key); err != nil {
		return "", err
	} else if ok {
		return value, nil
	}

	value, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl > 0 {
		if err := cache.Set(ctx, key, value, ttl); err != nil {
			return value, fmt.Errorf("failed to cache value: %w", err)
		}
	}
	return value, nil
}

// RedisCache keeps entries in Redis with a per-key expiry.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = DefaultPrefix
	}
	return &RedisCache{client: client, prefix: trimmedPrefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + strings.TrimSpace(k)
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expired entries are hidden on read and removed
// by Sweep.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
