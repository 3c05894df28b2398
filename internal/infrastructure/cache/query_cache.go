package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Default query cache settings
const (
	DefaultQueryTTL        = 10 * time.Minute
	defaultCleanupInterval = 30 * time.Second
)

// ErrSkipUpdate returned from an UpdateFunc leaves the entry untouched.
var ErrSkipUpdate = errors.New("cache: skip update")

// Entry is one cached query result. Value holds the JSON encoding of the
// cached record. A stale entry still carries its last value; readers treat
// it as "refetch before trusting".
type Entry struct {
	Value     json.RawMessage `json:"value"`
	Stale     bool            `json:"stale"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpdateFunc receives the current value of an entry and returns its
// replacement.
type UpdateFunc func(current []byte) ([]byte, error)

// QueryCache is the client-side query cache shared by table and detail views
// and by the realtime synchronizer. Keys are logical cache keys such as
// bpc.StatusCacheKey.
type QueryCache interface {
	// Get returns the entry under key, or nil on a miss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores value under key and clears the stale mark. A zero ttl uses
	// the cache default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Update rewrites an existing entry with fn. It reports false without
	// calling fn when the key is absent.
	Update(ctx context.Context, key string, fn UpdateFunc) (bool, error)
	// Invalidate marks an entry stale, keeping its value. Missing keys are
	// ignored.
	Invalidate(ctx context.Context, key string) error
	// Delete removes an entry.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the cache.
	Close() error
}

// QueryCacheConfig holds query cache tuning.
type QueryCacheConfig struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	KeyPrefix       string
}

// DefaultQueryCacheConfig returns the default query cache settings.
func DefaultQueryCacheConfig() QueryCacheConfig {
	return QueryCacheConfig{
		DefaultTTL:      DefaultQueryTTL,
		CleanupInterval: defaultCleanupInterval,
		KeyPrefix:       "console:query:",
	}
}

// GetAs decodes the entry under key into T. It returns nil on a miss.
func GetAs[T any](ctx context.Context, c QueryCache, key string) (value *T, stale bool, err error) {
	entry, err := c.Get(ctx, key)
	if err != nil || entry == nil {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached %q: %w", key, err)
	}
	return &v, entry.Stale, nil
}

// SetAs encodes value and stores it under key.
func SetAs[T any](ctx context.Context, c QueryCache, key string, value *T, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q for cache: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// UpdateAs decodes the existing entry, applies fn and stores the result. It
// is a no-op on a miss.
func UpdateAs[T any](ctx context.Context, c QueryCache, key string, fn func(*T) error) (bool, error) {
	return c.Update(ctx, key, func(current []byte) ([]byte, error) {
		var v T
		if err := json.Unmarshal(current, &v); err != nil {
			return nil, fmt.Errorf("failed to decode cached %q: %w", key, err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return json.Marshal(&v)
	})
}

// Fetch returns the cached value under key when it is present and fresh.
// Otherwise it calls load and caches the result. A nil result from load
// removes the entry.
func Fetch[T any](ctx context.Context, c QueryCache, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	cached, stale, err := GetAs[T](ctx, c, key)
	if err == nil && cached != nil && !stale {
		return cached, nil
	}

	fresh, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		// nothing current upstream; drop whatever was cached
		return nil, c.Delete(ctx, key)
	}
	if err := SetAs(ctx, c, key, fresh, ttl); err != nil {
		return fresh, fmt.Errorf("failed to cache %q: %w", key, err)
	}
	return fresh, nil
}
