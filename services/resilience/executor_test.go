package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/services/providers"
)

func newTestExecutor(maxAttempts int) *Executor {
	config := ExecutorConfig{
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
		Budget:      5 * time.Second,
	}
	breakers := NewBreakerSet(BreakerConfig{
		FailureThreshold: 3,
		Window:           time.Minute,
		Cooldown:         time.Minute,
		MaxCooldown:      time.Minute,
	}, nil)
	executor := NewExecutor(config, breakers, zap.NewNop())
	executor.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return executor
}

func transientErr() error {
	return services.NewDomainError(services.ErrorTypeServerError, "upstream blew up", services.ErrServerError)
}

func TestExecutor_Execute(t *testing.T) {
	t.Run("first attempt success", func(t *testing.T) {
		executor := newTestExecutor(3)
		calls := 0

		resp, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			calls++
			return &models.NormalizedResponse{Content: "ok"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient failure retries then succeeds", func(t *testing.T) {
		executor := newTestExecutor(3)
		calls := 0

		resp, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			calls++
			if calls < 3 {
				return nil, transientErr()
			}
			return &models.NormalizedResponse{Content: "recovered"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", resp.Content)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-transient failure is not retried", func(t *testing.T) {
		executor := newTestExecutor(3)
		calls := 0

		_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			calls++
			return nil, services.NewDomainError(services.ErrorTypeInvalidRequest, "bad request", services.ErrInvalidRequest)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, services.IsInvalidRequestError(err))
	})

	t.Run("rate limit is not retried and does not trip circuit", func(t *testing.T) {
		executor := newTestExecutor(3)

		for i := 0; i < 10; i++ {
			_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
				return nil, services.NewDomainError(services.ErrorTypeRateLimited, "slow down", services.ErrRateLimited)
			})
			require.Error(t, err)
		}

		assert.True(t, executor.Breakers().Healthy("alpha"))
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		executor := newTestExecutor(2)
		calls := 0

		_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			calls++
			return nil, transientErr()
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("open circuit fails fast with circuit_open", func(t *testing.T) {
		executor := newTestExecutor(1)

		for i := 0; i < 3; i++ {
			executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
				return nil, transientErr()
			})
		}

		calls := 0
		_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			calls++
			return nil, nil
		})
		require.Error(t, err)
		assert.Equal(t, 0, calls, "open circuit must not reach upstream")
		assert.True(t, services.IsCircuitOpenError(err))
	})

	t.Run("circuit opening mid-sequence returns the upstream error", func(t *testing.T) {
		executor := newTestExecutor(5)
		calls := 0

		_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			calls++
			return nil, transientErr()
		})
		require.Error(t, err)
		// Threshold is 3, so the circuit opened before attempts ran out.
		assert.Equal(t, 3, calls)
		assert.False(t, services.IsCircuitOpenError(err))
		assert.Equal(t, services.ErrorTypeServerError, services.GetErrorType(err))
	})

	t.Run("budget bounds the overall call", func(t *testing.T) {
		executor := newTestExecutor(3)
		executor.config.Budget = 20 * time.Millisecond

		_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
			<-ctx.Done()
			return nil, providers.ClassifyTransportError("alpha", ctx.Err())
		})
		require.Error(t, err)
		assert.Equal(t, services.ErrorTypeTimeout, services.GetErrorType(err))
	})

	t.Run("caller cancellation is not retried and does not trip the circuit", func(t *testing.T) {
		executor := newTestExecutor(3)

		for i := 0; i < 5; i++ {
			calls := 0
			_, err := executor.Execute(context.Background(), "alpha", func(ctx context.Context) (*models.NormalizedResponse, error) {
				calls++
				return nil, providers.ClassifyTransportError("alpha", context.Canceled)
			})
			require.Error(t, err)
			assert.Equal(t, services.ErrorTypeCanceled, services.GetErrorType(err))
			assert.Equal(t, 1, calls, "a cancelled caller must not be retried")
		}

		assert.True(t, executor.Breakers().Healthy("alpha"))
	})

	t.Run("provider budget overrides the default", func(t *testing.T) {
		executor := newTestExecutor(1)
		executor.config.ProviderBudgets = map[string]time.Duration{"slow": 100 * time.Millisecond}

		var remaining time.Duration
		_, err := executor.Execute(context.Background(), "slow", func(ctx context.Context) (*models.NormalizedResponse, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			remaining = time.Until(deadline)
			return &models.NormalizedResponse{}, nil
		})
		require.NoError(t, err)
		assert.Greater(t, remaining, time.Duration(0))
		assert.LessOrEqual(t, remaining, 100*time.Millisecond)
	})
}

func TestExecutor_ExecuteStream(t *testing.T) {
	t.Run("establishment failure is not retried", func(t *testing.T) {
		executor := newTestExecutor(3)
		calls := 0

		_, err := executor.ExecuteStream(context.Background(), "alpha", func(ctx context.Context) (*providers.Stream, error) {
			calls++
			return nil, transientErr()
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "streams must not be retried")
	})

	t.Run("open circuit rejects stream establishment", func(t *testing.T) {
		executor := newTestExecutor(1)
		for i := 0; i < 3; i++ {
			executor.ExecuteStream(context.Background(), "alpha", func(ctx context.Context) (*providers.Stream, error) {
				return nil, transientErr()
			})
		}

		_, err := executor.ExecuteStream(context.Background(), "alpha", func(ctx context.Context) (*providers.Stream, error) {
			t.Fatal("must not reach upstream")
			return nil, nil
		})
		require.Error(t, err)
		assert.True(t, services.IsCircuitOpenError(err))
	})

	t.Run("successful establishment passes chunks through", func(t *testing.T) {
		executor := newTestExecutor(3)

		stream, err := executor.ExecuteStream(context.Background(), "alpha", func(ctx context.Context) (*providers.Stream, error) {
			return providers.SingleChunkStream(&models.NormalizedResponse{
				Provider:     "alpha",
				Model:        "m1",
				Content:      "hello",
				FinishReason: "stop",
			}), nil
		})
		require.NoError(t, err)

		resp, err := stream.Collect()
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content)
	})

	t.Run("mid-stream failure feeds the breaker", func(t *testing.T) {
		executor := newTestExecutor(1)

		for i := 0; i < 3; i++ {
			stream, err := executor.ExecuteStream(context.Background(), "alpha", func(ctx context.Context) (*providers.Stream, error) {
				return providers.NewStream("alpha", "m1", func(yield func(models.ResponseChunk, error) bool) {
					yield(models.ResponseChunk{}, transientErr())
				}), nil
			})
			require.NoError(t, err)
			_, err = stream.Collect()
			require.Error(t, err)
		}

		assert.False(t, executor.Breakers().Healthy("alpha"))
	})

	t.Run("client disconnects do not open the circuit", func(t *testing.T) {
		executor := newTestExecutor(1)

		for i := 0; i < 5; i++ {
			stream, err := executor.ExecuteStream(context.Background(), "alpha", func(ctx context.Context) (*providers.Stream, error) {
				return providers.NewStream("alpha", "m1", func(yield func(models.ResponseChunk, error) bool) {
					if !yield(models.ResponseChunk{Content: "partial"}, nil) {
						return
					}
					yield(models.ResponseChunk{}, providers.ClassifyTransportError("alpha", context.Canceled))
				}), nil
			})
			require.NoError(t, err)
			_, err = stream.Collect()
			require.Error(t, err)
			assert.Equal(t, services.ErrorTypeCanceled, services.GetErrorType(err))
		}

		assert.True(t, executor.Breakers().Healthy("alpha"))
	})

	t.Run("establishment is bounded by the provider budget", func(t *testing.T) {
		executor := newTestExecutor(1)
		executor.config.ProviderBudgets = map[string]time.Duration{"slow": 10 * time.Millisecond}

		_, err := executor.ExecuteStream(context.Background(), "slow", func(ctx context.Context) (*providers.Stream, error) {
			<-ctx.Done()
			return nil, providers.ClassifyTransportError("slow", ctx.Err())
		})
		require.Error(t, err)
		assert.Equal(t, services.ErrorTypeTimeout, services.GetErrorType(err))
	})
}
