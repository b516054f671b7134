package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/services"
)

func newTestService(t *testing.T, limits Limits) (*Service, *miniredis.Miniredis) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewService(client, limits, zap.NewNop()), server
}

func TestService_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("allows under the limit", func(t *testing.T) {
		service, _ := newTestService(t, Limits{"openai": 3})

		for i := 0; i < 3; i++ {
			require.NoError(t, service.Allow(ctx, "openai"))
		}
	})

	t.Run("rejects over the limit", func(t *testing.T) {
		service, _ := newTestService(t, Limits{"openai": 2})

		require.NoError(t, service.Allow(ctx, "openai"))
		require.NoError(t, service.Allow(ctx, "openai"))

		err := service.Allow(ctx, "openai")
		require.Error(t, err)
		assert.True(t, services.IsRateLimitError(err))
		assert.Equal(t, "openai", services.GetErrorDetails(err)["provider"])
	})

	t.Run("limits are per provider", func(t *testing.T) {
		service, _ := newTestService(t, Limits{"openai": 1, "anthropic": 1})

		require.NoError(t, service.Allow(ctx, "openai"))
		require.NoError(t, service.Allow(ctx, "anthropic"))
		assert.Error(t, service.Allow(ctx, "openai"))
	})

	t.Run("window resets after a minute", func(t *testing.T) {
		service, _ := newTestService(t, Limits{"openai": 1})
		base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
		service.now = func() time.Time { return base }

		require.NoError(t, service.Allow(ctx, "openai"))
		require.Error(t, service.Allow(ctx, "openai"))

		base = base.Add(time.Minute)
		require.NoError(t, service.Allow(ctx, "openai"))
	})

	t.Run("unlimited provider is never rejected", func(t *testing.T) {
		service, _ := newTestService(t, Limits{"openai": 1})

		for i := 0; i < 5; i++ {
			require.NoError(t, service.Allow(ctx, "anthropic"))
		}
	})

	t.Run("degrades open when redis is down", func(t *testing.T) {
		service, server := newTestService(t, Limits{"openai": 1})
		server.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, service.Allow(ctx, "openai"))
		}
	})

	t.Run("nil client allows everything", func(t *testing.T) {
		service := NewService(nil, Limits{"openai": 1}, zap.NewNop())

		for i := 0; i < 5; i++ {
			require.NoError(t, service.Allow(ctx, "openai"))
		}
	})
}
