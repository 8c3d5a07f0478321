//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

func TestRedisReplayGuard(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7.4-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, common.RedisConfig{Addr: opts.Addr})
	require.NoError(t, err)
	defer client.Close()

	g := NewRedisReplayGuard(client, "test:")
	first, err := g.FirstUse(ctx, "jti-1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = g.FirstUse(ctx, "jti-1", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, first)

	ttl, err := client.TTL(ctx, "test:jti-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)
}
