package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/redis/go-redis/v9"
)

const defaultLedgerPrefix = "bpc:toasted:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// newRedisClient dials Redis and verifies the connection.
func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisToastLedger implements bpc.ToastLedger using Redis
// This is suitable for distributed deployments where several gateway
// instances serve the same operator
type RedisToastLedger struct {
	client     *redis.Client
	ownsClient bool
	keyPrefix  string
	ttl        time.Duration
}

// NewRedisToastLedger creates a new Redis-based toast ledger
func NewRedisToastLedger(cfg RedisConfig, ttl time.Duration) (*RedisToastLedger, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	ledger := NewRedisToastLedgerWithClient(client, "", ttl)
	ledger.ownsClient = true
	return ledger, nil
}

// NewRedisToastLedgerWithClient creates a ledger with an existing Redis client
// This is useful for testing or when sharing a client across components
func NewRedisToastLedgerWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisToastLedger {
	if keyPrefix == "" {
		keyPrefix = defaultLedgerPrefix
	}
	if ttl <= 0 {
		ttl = bpc.DefaultLedgerConfig().TTL
	}
	return &RedisToastLedger{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (l *RedisToastLedger) key(scope string) string {
	return l.keyPrefix + scope
}

// Due reports whether entityID differs from the last recorded entity
func (l *RedisToastLedger) Due(ctx context.Context, scope string, entityID int64) (bool, error) {
	prev, err := l.client.Get(ctx, l.key(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read toasted entity: %w", err)
	}
	return prev != strconv.FormatInt(entityID, 10), nil
}

// Record stores entityID as the last toasted entity of scope
func (l *RedisToastLedger) Record(ctx context.Context, scope string, entityID int64) error {
	if err := l.client.Set(ctx, l.key(scope), strconv.FormatInt(entityID, 10), l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record toasted entity: %w", err)
	}
	return nil
}

// Forget drops the scope's entry
func (l *RedisToastLedger) Forget(ctx context.Context, scope string) error {
	if err := l.client.Del(ctx, l.key(scope)).Err(); err != nil {
		return fmt.Errorf("failed to forget toasted entity: %w", err)
	}
	return nil
}

// Close closes the Redis client when the ledger owns it
func (l *RedisToastLedger) Close() error {
	if l.ownsClient {
		return l.client.Close()
	}
	return nil
}

// Ensure RedisToastLedger implements bpc.ToastLedger
var _ bpc.ToastLedger = (*RedisToastLedger)(nil)
