package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist records tokens signed out at this gateway so a replayed
// token cannot re-open a console session before it expires
type TokenBlacklist interface {
	// AddToBlacklist revokes the token key for ttl (the token's remaining lifetime)
	AddToBlacklist(ctx context.Context, key string, ttl time.Duration) error

	// IsBlacklisted reports whether the token key is revoked
	IsBlacklisted(ctx context.Context, key string) (bool, error)
}

// RedisTokenBlacklist implements TokenBlacklist using Redis
type RedisTokenBlacklist struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTokenBlacklistWithClient creates a token blacklist with an existing Redis client
func NewRedisTokenBlacklistWithClient(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{
		client:    client,
		keyPrefix: "console:signed_out:",
	}
}

// AddToBlacklist stores the key with TTL
func (b *RedisTokenBlacklist) AddToBlacklist(ctx context.Context, key string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.keyPrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// IsBlacklisted checks if the key is in the blacklist
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, key string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// Ensure RedisTokenBlacklist implements TokenBlacklist
var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

// InMemoryTokenBlacklist is the single-instance TokenBlacklist
type InMemoryTokenBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiration time
}

// NewInMemoryTokenBlacklist creates a new in-memory token blacklist
func NewInMemoryTokenBlacklist() *InMemoryTokenBlacklist {
	return &InMemoryTokenBlacklist{entries: make(map[string]time.Time)}
}

// AddToBlacklist adds the key to the in-memory blacklist
func (b *InMemoryTokenBlacklist) AddToBlacklist(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = time.Now().Add(ttl)
	return nil
}

// IsBlacklisted checks if the key is blacklisted (and not expired)
func (b *InMemoryTokenBlacklist) IsBlacklisted(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiration, exists := b.entries[key]
	if !exists {
		return false, nil
	}
	if time.Now().After(expiration) {
		delete(b.entries, key)
		return false, nil
	}
	return true, nil
}

// Ensure InMemoryTokenBlacklist implements TokenBlacklist
var _ TokenBlacklist = (*InMemoryTokenBlacklist)(nil)
