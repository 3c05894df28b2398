// Package testutil provides common test utilities for the console gateway.
// It spins up a real Redis through testcontainers for integration tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// Shared container for all tests in a package
	sharedRedis     testcontainers.Container
	sharedRedisMu   sync.Mutex
	sharedRedisAddr string
	sharedRedisDB   int
)

// RedisImage is the image started for integration tests.
const RedisImage = "redis:7-alpine"

// NewRedisClient returns a client connected to a shared Redis container. Each
// call gets its own logical database (wrapping after 16) which is flushed on
// cleanup. Skipped under -short.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	sharedRedisMu.Lock()
	if sharedRedis == nil {
		ctx := context.Background()
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        RedisImage,
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor: wait.ForLog("Ready to accept connections").
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			sharedRedisMu.Unlock()
			require.NoError(t, err, "Failed to start Redis container")
		}

		addr, err := container.PortEndpoint(ctx, "6379/tcp", "")
		if err != nil {
			_ = container.Terminate(ctx)
			sharedRedisMu.Unlock()
			require.NoError(t, err, "Failed to resolve Redis container address")
		}
		sharedRedis = container
		sharedRedisAddr = addr
	}
	db := sharedRedisDB % 16
	sharedRedisDB++
	addr := sharedRedisAddr
	sharedRedisMu.Unlock()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err(), "Failed to ping Redis container")
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}
