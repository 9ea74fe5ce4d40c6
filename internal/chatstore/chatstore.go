// Package chatstore persists per-chat conversation state in Redis so the flow
// engine survives restarts and scales across instances.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys under which conversation state is stored per chat.
const (
	KeyCurrentBlock = "current_block_id"
	KeyPendingInput = "pending_input"
)

// DefaultTTL is how long per-chat keys live without activity. Conversations
// idle longer than this simply restart from the menu.
const DefaultTTL = 30 * 24 * time.Hour

// Storage is the minimal per-chat key/value contract the flow engine needs.
type Storage interface {
	Get(ctx context.Context, chatID int64, key string) (string, bool, error)
	Set(ctx context.Context, chatID int64, key, value string) error
	Forget(ctx context.Context, chatID int64, key string) error
}

func chatKey(chatID int64, key string) string {
	return fmt.Sprintf("chat:%d:%s", chatID, key)
}

// RedisStorage implements Storage on a Redis client.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage constructs a RedisStorage. A non-positive ttl falls back to
// DefaultTTL.
func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStorage{client: client, ttl: ttl}
}

// Get fetches a chat-scoped value; the second result reports presence.
func (s *RedisStorage) Get(ctx context.Context, chatID int64, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("redis storage is not initialized")
	}
	if ctx == nil {
		return "", false, errors.New("context is required")
	}

	value, err := s.client.Get(ctx, chatKey(chatID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores a chat-scoped value and refreshes its TTL.
func (s *RedisStorage) Set(ctx context.Context, chatID int64, key, value string) error {
	if s == nil || s.client == nil {
		return errors.New("redis storage is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := s.client.Set(ctx, chatKey(chatID, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	return nil
}

// Forget removes a chat-scoped value. Removing an absent key is not an error.
func (s *RedisStorage) Forget(ctx context.Context, chatID int64, key string) error {
	if s == nil || s.client == nil {
		return errors.New("redis storage is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := s.client.Del(ctx, chatKey(chatID, key)).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}

	return nil
}

// MemoryStorage is an in-process Storage for tests and single-instance runs
// without Redis.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get fetches a chat-scoped value; the second result reports presence.
func (s *MemoryStorage) Get(_ context.Context, chatID int64, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[chatKey(chatID, key)]
	return value, ok, nil
}

// Set stores a chat-scoped value.
func (s *MemoryStorage) Set(_ context.Context, chatID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[chatKey(chatID, key)] = value
	return nil
}

// Forget removes a chat-scoped value.
func (s *MemoryStorage) Forget(_ context.Context, chatID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, chatKey(chatID, key))
	return nil
}
