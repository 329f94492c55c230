package testutil

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupTestRedis starts a Redis container and returns a connected client.
func SetupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	ctx := context.Background()
	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	uri, err := redisC.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err())

	return client, func() {
		_ = client.Close()
		_ = redisC.Terminate(ctx)
	}
}
