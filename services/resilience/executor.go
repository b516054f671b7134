package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/services/providers"
)

// ExecutorConfig controls the retry behavior.
type ExecutorConfig struct {
	// MaxAttempts is the total number of tries per provider, first call
	// included.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; subsequent retries
	// double it.
	BaseBackoff time.Duration

	// MaxBackoff caps the per-retry delay.
	MaxBackoff time.Duration

	// Budget is the default deadline for one provider invocation, retries
	// and backoff included.
	Budget time.Duration

	// ProviderBudgets overrides Budget per provider, from each provider's
	// configured timeout.
	ProviderBudgets map[string]time.Duration
}

// DefaultExecutorConfig returns conservative production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts: 3,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  4 * time.Second,
		Budget:      90 * time.Second,
	}
}

// Operation is one upstream provider call.
type Operation func(ctx context.Context) (*models.NormalizedResponse, error)

// StreamOperation is one upstream streaming call.
type StreamOperation func(ctx context.Context) (*providers.Stream, error)

// Executor wraps provider calls with a per-provider circuit breaker,
// bounded retries, and an overall time budget.
type Executor struct {
	config   ExecutorConfig
	breakers *BreakerSet
	logger   *zap.Logger

	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over a shared breaker set.
func NewExecutor(config ExecutorConfig, breakers *BreakerSet, logger *zap.Logger) *Executor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config:   config,
		breakers: breakers,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Breakers exposes the underlying breaker set for health inspection.
func (e *Executor) Breakers() *BreakerSet {
	return e.breakers
}

// Execute runs op against a provider under the circuit breaker and retry
// policy. Only transient failures are retried; the breaker counts only
// infrastructure failures (timeouts, 5xx, network errors), so client
// mistakes and rate limits never trip a circuit. If the circuit is open on
// the first attempt the call fails fast with a circuit_open error; if it
// opens mid-sequence the last upstream error is returned instead.
func (e *Executor) Execute(ctx context.Context, provider string, op Operation) (*models.NormalizedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.budgetFor(provider))
	defer cancel()

	breaker := e.breakers.Get(provider)
	var lastErr error

	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		if !breaker.Allow() {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, services.NewDomainError(services.ErrorTypeCircuitOpen,
				"provider circuit is open", services.ErrCircuitOpen).
				WithDetail("provider", provider)
		}

		resp, err := op(ctx)
		if err == nil {
			breaker.Success()
			return resp, nil
		}
		lastErr = err

		if countsTowardCircuit(err) {
			breaker.Failure()
		}

		if !services.IsTransient(err) {
			return nil, err
		}

		if attempt == e.config.MaxAttempts-1 {
			break
		}

		delay := e.backoff(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			e.logger.Debug("abandoning retries, budget exhausted",
				zap.String("provider", provider),
				zap.Int("attempt", attempt+1))
			break
		}

		e.logger.Debug("retrying provider call",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}

	return nil, lastErr
}

// ExecuteStream runs a streaming op under the circuit breaker. Streams are
// not retried: once chunks may have been delivered, a replay would duplicate
// output. The breaker and the provider's time budget apply to stream
// establishment only; mid-stream errors are reported by the stream itself
// and fed back through the returned stream's error path.
func (e *Executor) ExecuteStream(ctx context.Context, provider string, op StreamOperation) (*providers.Stream, error) {
	breaker := e.breakers.Get(provider)

	if !breaker.Allow() {
		return nil, services.NewDomainError(services.ErrorTypeCircuitOpen,
			"provider circuit is open", services.ErrCircuitOpen).
			WithDetail("provider", provider)
	}

	// The budget bounds establishment only. A deadline on the context
	// would also cut chunk delivery short, so a watchdog cancels instead
	// and is disarmed once the stream is up.
	streamCtx, cancel := context.WithCancel(ctx)
	watchdog := time.AfterFunc(e.budgetFor(provider), cancel)

	stream, err := op(streamCtx)
	timedOut := !watchdog.Stop()
	if err == nil && timedOut {
		err = services.NewDomainError(services.ErrorTypeTimeout,
			"stream establishment timed out", services.ErrTimeout).
			WithDetail("provider", provider)
	}
	if err != nil {
		cancel()
		if timedOut && ctx.Err() == nil && !services.IsTransient(err) {
			err = services.NewDomainError(services.ErrorTypeTimeout,
				"stream establishment timed out", err).
				WithDetail("provider", provider)
		}
		if countsTowardCircuit(err) {
			breaker.Failure()
		}
		return nil, err
	}
	breaker.Success()

	// Mid-stream infrastructure failures still inform the breaker. The
	// stream context is released once the consumer stops iterating.
	seq := func(yield func(models.ResponseChunk, error) bool) {
		defer cancel()
		for chunk, err := range stream.Chunks() {
			if err != nil && countsTowardCircuit(err) {
				breaker.Failure()
			}
			if !yield(chunk, err) {
				return
			}
		}
	}

	return providers.NewStream(stream.Provider, stream.Model, seq), nil
}

// budgetFor returns the provider's configured timeout budget, falling back
// to the shared default.
func (e *Executor) budgetFor(provider string) time.Duration {
	if d, ok := e.config.ProviderBudgets[provider]; ok && d > 0 {
		return d
	}
	return e.config.Budget
}

// backoff returns base * 2^attempt capped at MaxBackoff, with up to 25%
// random jitter to avoid synchronized retry bursts.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.config.BaseBackoff << uint(attempt)
	if e.config.MaxBackoff > 0 && delay > e.config.MaxBackoff {
		delay = e.config.MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	return delay + jitter
}

// countsTowardCircuit reports whether a failure indicates provider
// infrastructure trouble. Rate limits, auth failures and caller
// cancellations are excluded: they say nothing about provider availability.
func countsTowardCircuit(err error) bool {
	switch services.GetErrorType(err) {
	case services.ErrorTypeTimeout, services.ErrorTypeServerError, services.ErrorTypeNetworkError:
		return true
	default:
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
