package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheTTL is how long a membership verdict stays valid.
const CacheTTL = 5 * time.Minute

// Cache stores per-user membership verdicts.
type Cache interface {
	Get(ctx context.Context, userID int64) (Result, bool, error)
	Set(ctx context.Context, userID int64, result Result) error
	Forget(ctx context.Context, userID int64) error
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("subscriptions_check_%d", userID)
}

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache. A non-positive ttl falls back to
// CacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get fetches a cached verdict; the second result reports presence. A payload
// that no longer decodes is dropped and reported as absent.
func (c *RedisCache) Get(ctx context.Context, userID int64) (Result, bool, error) {
	if c == nil || c.client == nil {
		return Result{}, false, errors.New("subscription cache is not initialized")
	}
	if ctx == nil {
		return Result{}, false, errors.New("context is required")
	}

	raw, err := c.client.Get(ctx, cacheKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("get cached verdict: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		_ = c.client.Del(ctx, cacheKey(userID)).Err()
		return Result{}, false, nil
	}

	return result, true, nil
}

// Set stores a verdict with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, userID int64, result Result) error {
	if c == nil || c.client == nil {
		return errors.New("subscription cache is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache verdict: %w", err)
	}

	return nil
}

// Forget drops the cached verdict for a user.
func (c *RedisCache) Forget(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return errors.New("subscription cache is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("forget verdict: %w", err)
	}

	return nil
}

// MemoryCache is an in-process Cache for tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]Result
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]Result)}
}

// Get fetches a cached verdict.
func (c *MemoryCache) Get(_ context.Context, userID int64) (Result, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.entries[userID]
	return result, ok, nil
}

// Set stores a verdict.
func (c *MemoryCache) Set(_ context.Context, userID int64, result Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = result
	return nil
}

// Forget drops the cached verdict.
func (c *MemoryCache) Forget(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userID)
	return nil
}
