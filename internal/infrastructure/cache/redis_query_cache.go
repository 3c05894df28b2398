package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxUpdateRetries = 5

// RedisQueryCache implements QueryCache on Redis so several gateway
// instances serving the same operator see one cache.
type RedisQueryCache struct {
	client     *redis.Client
	ownsClient bool // true if we created the client and should close it
	config     QueryCacheConfig
	logger     *zap.Logger
}

// RedisQueryCacheOption is a functional option for configuring the cache
type RedisQueryCacheOption func(*RedisQueryCache)

// WithQueryCacheConfig sets the cache configuration
func WithQueryCacheConfig(config QueryCacheConfig) RedisQueryCacheOption {
	return func(c *RedisQueryCache) {
		c.config = config
	}
}

// WithQueryCacheLogger sets the logger for the cache
func WithQueryCacheLogger(logger *zap.Logger) RedisQueryCacheOption {
	return func(c *RedisQueryCache) {
		c.logger = logger
	}
}

// NewRedisQueryCache connects to Redis and creates a query cache owning the
// client.
func NewRedisQueryCache(cfg RedisConfig, opts ...RedisQueryCacheOption) (*RedisQueryCache, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	cache := NewRedisQueryCacheWithClient(client, opts...)
	cache.ownsClient = true
	return cache, nil
}

// NewRedisQueryCacheWithClient creates a cache with an existing Redis client
// Note: The caller retains ownership of the client and is responsible for closing it
func NewRedisQueryCacheWithClient(client *redis.Client, opts ...RedisQueryCacheOption) *RedisQueryCache {
	cache := &RedisQueryCache{
		client: client,
		config: DefaultQueryCacheConfig(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cache)
	}
	if cache.config.DefaultTTL <= 0 {
		cache.config.DefaultTTL = DefaultQueryTTL
	}

	return cache
}

func (c *RedisQueryCache) cacheKey(key string) string {
	return c.config.KeyPrefix + key
}

func (c *RedisQueryCache) decode(ctx context.Context, cacheKey string, data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("Failed to unmarshal cached query",
			zap.String("key", cacheKey),
			zap.Error(err))
		// Delete corrupted cache entry
		_ = c.client.Del(ctx, cacheKey)
		return nil, fmt.Errorf("failed to unmarshal cached query: %w", err)
	}
	return &entry, nil
}

// Get retrieves a query result from cache
func (c *RedisQueryCache) Get(ctx context.Context, key string) (*Entry, error) {
	cacheKey := c.cacheKey(key)

	data, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("Query cache miss", zap.String("key", key))
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Failed to get query from cache",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get query from cache: %w", err)
	}

	return c.decode(ctx, cacheKey, data)
}

// Set stores a query result in cache
func (c *RedisQueryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	data, err := json.Marshal(Entry{Value: value, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal query entry: %w", err)
	}

	if err := c.client.Set(ctx, c.cacheKey(key), data, ttl).Err(); err != nil {
		c.logger.Error("Failed to cache query",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to set query in cache: %w", err)
	}

	c.logger.Debug("Cached query result", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// rewrite runs an optimistic WATCH/MULTI read-modify-write of one key,
// keeping its TTL. fn returning ErrSkipUpdate aborts without writing.
func (c *RedisQueryCache) rewrite(ctx context.Context, key string, fn func(*Entry) error) (bool, error) {
	cacheKey := c.cacheKey(key)
	written := false

	txf := func(tx *redis.Tx) error {
		written = false
		data, err := tx.Get(ctx, cacheKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		entry, err := c.decode(ctx, cacheKey, data)
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
		next, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, cacheKey, next, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			written = true
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := c.client.Watch(ctx, txf, cacheKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrSkipUpdate) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to update cached query %q: %w", key, err)
		}
		return written, nil
	}
	return false, fmt.Errorf("failed to update cached query %q: too many concurrent writers", key)
}

// Update rewrites an existing entry, keeping its TTL
func (c *RedisQueryCache) Update(ctx context.Context, key string, fn UpdateFunc) (bool, error) {
	return c.rewrite(ctx, key, func(entry *Entry) error {
		next, err := fn(entry.Value)
		if err != nil {
			return err
		}
		entry.Value = next
		entry.UpdatedAt = time.Now()
		return nil
	})
}

// Invalidate marks an entry stale
func (c *RedisQueryCache) Invalidate(ctx context.Context, key string) error {
	_, err := c.rewrite(ctx, key, func(entry *Entry) error {
		if entry.Stale {
			return ErrSkipUpdate
		}
		entry.Stale = true
		return nil
	})
	if err == nil {
		c.logger.Debug("Invalidated query", zap.String("key", key))
	}
	return err
}

// Delete removes an entry from cache
func (c *RedisQueryCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete query from cache: %w", err)
	}
	return nil
}

// Close closes the Redis client when the cache owns it
func (c *RedisQueryCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}

// Ensure RedisQueryCache implements QueryCache
var _ QueryCache = (*RedisQueryCache)(nil)
