//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ms-admission/internal/logger"
)

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()
	lock := NewRedis(client, logger.Discard())

	ok, err := lock.Lock(ctx, LockKey, "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Lock(ctx, LockKey, "replica-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Unlock(ctx, LockKey, "replica-b"))
	assert.Equal(t, int64(1), client.Exists(ctx, LockKey).Val())

	require.NoError(t, lock.Unlock(ctx, LockKey, "replica-a"))
	assert.Equal(t, int64(0), client.Exists(ctx, LockKey).Val())

	ok, err = lock.Lock(ctx, LockKey, "replica-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
