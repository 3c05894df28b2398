package cache

import (
	"fmt"

	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates the query cache and toast ledger from configuration,
// sharing one Redis client between them when Redis is enabled
type Factory struct {
	redisConfig           config.RedisConfig
	cacheConfig           config.CacheConfig
	logger                *zap.Logger
	allowInMemoryFallback bool

	client *redis.Client
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when Redis is unavailable
// Default is taken from cache.allow_in_memory_fallback
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new factory
func NewFactory(redisCfg config.RedisConfig, cacheCfg config.CacheConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           redisCfg,
		cacheConfig:           cacheCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: cacheCfg.AllowInMemoryFallback,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// redisClient lazily dials the shared client
func (f *Factory) redisClient() (*redis.Client, error) {
	if f.client != nil {
		return f.client, nil
	}
	if !f.redisConfig.Enabled {
		return nil, fmt.Errorf("redis is disabled")
	}
	client, err := newRedisClient(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}

// RedisClient returns the shared Redis client, dialing it on first use.
// The push transport reuses it for pub/sub.
func (f *Factory) RedisClient() (*redis.Client, error) {
	return f.redisClient()
}

func (f *Factory) queryCacheConfig() QueryCacheConfig {
	cfg := DefaultQueryCacheConfig()
	if f.cacheConfig.DefaultTTL > 0 {
		cfg.DefaultTTL = f.cacheConfig.DefaultTTL
	}
	return cfg
}

// CreateQueryCache creates the query cache for the configured backend
// It falls back to in-memory when Redis is not reachable and fallback is allowed
func (f *Factory) CreateQueryCache() (QueryCache, error) {
	if f.cacheConfig.Backend == config.CacheBackendRedis {
		client, err := f.redisClient()
		if err == nil {
			f.logger.Info("using Redis query cache")
			return NewRedisQueryCacheWithClient(client,
				WithQueryCacheConfig(f.queryCacheConfig()),
				WithQueryCacheLogger(f.logger.Named("query_cache")),
			), nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("Redis required for query cache but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory query cache. "+
			"Gateway instances will not share cached queries.",
			zap.Error(err),
		)
	}

	return NewInMemoryQueryCache(
		WithInMemoryConfig(f.queryCacheConfig()),
		WithInMemoryLogger(f.logger.Named("query_cache")),
	), nil
}

// CreateToastLedger creates the toast ledger, Redis-backed when Redis is enabled
// WARNING: In-memory ledgers do not share state across instances, so an
// operator connected to two instances may see a toast twice
func (f *Factory) CreateToastLedger() (bpc.ToastLedger, error) {
	if f.redisConfig.Enabled {
		client, err := f.redisClient()
		if err == nil {
			f.logger.Info("using Redis toast ledger")
			return NewRedisToastLedgerWithClient(client, "", f.cacheConfig.LedgerTTL), nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("Redis required for toast ledger but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory toast ledger", zap.Error(err))
	}

	return NewInMemoryToastLedger(f.cacheConfig.LedgerTTL), nil
}

// Close closes the shared Redis client if one was dialed
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client = nil
	return err
}
