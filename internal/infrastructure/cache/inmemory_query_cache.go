package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// InMemoryQueryCache implements QueryCache in process memory. It serves
// single-instance deployments and tests.
type InMemoryQueryCache struct {
	entries sync.Map // map[string]*memoryEntry
	writeMu sync.Mutex
	config  QueryCacheConfig
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped int32

	hits   int64
	misses int64
}

// memoryEntry wraps a cached value with expiration time
type memoryEntry struct {
	value     []byte
	stale     bool
	updatedAt time.Time
	expiresAt time.Time
}

func (e *memoryEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// InMemoryQueryCacheOption is a functional option for configuring the cache
type InMemoryQueryCacheOption func(*InMemoryQueryCache)

// WithInMemoryConfig sets the cache configuration
func WithInMemoryConfig(config QueryCacheConfig) InMemoryQueryCacheOption {
	return func(c *InMemoryQueryCache) {
		c.config = config
	}
}

// WithInMemoryLogger sets the logger for the cache
func WithInMemoryLogger(logger *zap.Logger) InMemoryQueryCacheOption {
	return func(c *InMemoryQueryCache) {
		c.logger = logger
	}
}

// NewInMemoryQueryCache creates a new in-memory query cache
func NewInMemoryQueryCache(opts ...InMemoryQueryCacheOption) *InMemoryQueryCache {
	cache := &InMemoryQueryCache{
		config: DefaultQueryCacheConfig(),
		logger: zap.NewNop(),
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cache)
	}
	if cache.config.DefaultTTL <= 0 {
		cache.config.DefaultTTL = DefaultQueryTTL
	}
	if cache.config.CleanupInterval <= 0 {
		cache.config.CleanupInterval = defaultCleanupInterval
	}

	go cache.cleanupExpired()

	return cache
}

// load returns the live entry under key, dropping it when expired.
func (c *InMemoryQueryCache) load(key string) (*memoryEntry, bool) {
	value, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := value.(*memoryEntry)
	if entry.isExpired() {
		c.entries.CompareAndDelete(key, value)
		return nil, false
	}
	return entry, true
}

// Get retrieves a query result from cache
func (c *InMemoryQueryCache) Get(ctx context.Context, key string) (*Entry, error) {
	entry, ok := c.load(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		c.logger.Debug("Query cache miss", zap.String("key", key))
		return nil, nil
	}

	atomic.AddInt64(&c.hits, 1)
	c.logger.Debug("Query cache hit", zap.String("key", key), zap.Bool("stale", entry.stale))
	return &Entry{
		Value:     append([]byte(nil), entry.value...),
		Stale:     entry.stale,
		UpdatedAt: entry.updatedAt,
	}, nil
}

// Set stores a query result in cache
func (c *InMemoryQueryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := time.Now()

	c.writeMu.Lock()
	c.entries.Store(key, &memoryEntry{
		value:     append([]byte(nil), value...),
		updatedAt: now,
		expiresAt: now.Add(ttl),
	})
	c.writeMu.Unlock()

	c.logger.Debug("Cached query result", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Update rewrites an existing entry in place, keeping its expiry.
func (c *InMemoryQueryCache) Update(ctx context.Context, key string, fn UpdateFunc) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	entry, ok := c.load(key)
	if !ok {
		c.logger.Debug("Skipped update of missing query", zap.String("key", key))
		return false, nil
	}

	next, err := fn(append([]byte(nil), entry.value...))
	if errors.Is(err, ErrSkipUpdate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.entries.Store(key, &memoryEntry{
		value:     next,
		stale:     entry.stale,
		updatedAt: time.Now(),
		expiresAt: entry.expiresAt,
	})
	return true, nil
}

// Invalidate marks an entry stale
func (c *InMemoryQueryCache) Invalidate(ctx context.Context, key string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	entry, ok := c.load(key)
	if !ok {
		return nil
	}
	marked := *entry
	marked.stale = true
	c.entries.Store(key, &marked)
	c.logger.Debug("Invalidated query", zap.String("key", key))
	return nil
}

// Delete removes an entry from cache
func (c *InMemoryQueryCache) Delete(ctx context.Context, key string) error {
	c.writeMu.Lock()
	c.entries.Delete(key)
	c.writeMu.Unlock()
	c.logger.Debug("Deleted query from cache", zap.String("key", key))
	return nil
}

// Close stops the cleanup goroutine
func (c *InMemoryQueryCache) Close() error {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
	return nil
}

// GetStats returns cache statistics
func (c *InMemoryQueryCache) GetStats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Count returns the number of entries in the cache, expired ones included
// until the next cleanup.
func (c *InMemoryQueryCache) Count() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *InMemoryQueryCache) cleanupExpired() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("Panic in query cache cleanup", zap.Any("panic", r))
					}
				}()
				c.doCleanup()
			}()
		}
	}
}

func (c *InMemoryQueryCache) doCleanup() {
	removed := 0
	c.entries.Range(func(key, value any) bool {
		if value.(*memoryEntry).isExpired() {
			c.entries.CompareAndDelete(key, value)
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("Cleaned up expired query cache entries", zap.Int("removed", removed))
	}
}

// Ensure InMemoryQueryCache implements QueryCache
var _ QueryCache = (*InMemoryQueryCache)(nil)
