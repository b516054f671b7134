// Package routing implements the request router: validation, cache lookup,
// provider selection with failover, and usage accounting.
package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/normalman743/apiforward/internal/observability"
	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/services/cache"
	"github.com/normalman743/apiforward/services/providers"
	"github.com/normalman743/apiforward/services/resilience"
)

// Recorder queues usage records for background persistence.
type Recorder interface {
	Record(record *models.LedgerRecord) error
}

// RateLimiter counts a request against a provider's limit.
type RateLimiter interface {
	Allow(ctx context.Context, provider string) error
}

// Config holds router tunables.
type Config struct {
	// CacheTTL is how long completed responses stay servable from cache.
	CacheTTL time.Duration
}

// Router picks a provider for each request and drives the full request
// lifecycle around the upstream call.
type Router struct {
	registry *providers.Registry
	executor *resilience.Executor
	cache    cache.Cache
	limiter  RateLimiter
	recorder Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	config   Config
}

// NewRouter wires the router. limiter and recorder may be nil, disabling
// rate limiting and usage accounting respectively.
func NewRouter(
	registry *providers.Registry,
	executor *resilience.Executor,
	responseCache cache.Cache,
	limiter RateLimiter,
	recorder Recorder,
	metrics *observability.Metrics,
	logger *zap.Logger,
	config Config,
) *Router {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Router{
		registry: registry,
		executor: executor,
		cache:    responseCache,
		limiter:  limiter,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// Route answers a completion request, from cache when possible, otherwise
// from the first healthy provider that serves the model. Providers are
// tried in preference order; transient and availability failures fail over
// to the next candidate, client errors return immediately.
func (r *Router) Route(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}

	fingerprint := req.Fingerprint()

	if !req.NoCache {
		if entry, err := r.cache.Get(ctx, fingerprint); err == nil {
			r.metrics.CacheHitsTotal.Inc()
			r.logger.Debug("cache hit", zap.String("fingerprint", fingerprint))
			return entry.Response, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("cache read failed", zap.Error(err))
		}
		r.metrics.CacheMissesTotal.Inc()
	}

	candidates, err := r.selectProviders(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, adapter := range candidates {
		provider := adapter.Name()

		if err := r.allowProvider(ctx, provider); err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := r.executor.Execute(ctx, provider, func(ctx context.Context) (*models.NormalizedResponse, error) {
			return adapter.Invoke(ctx, req)
		})
		r.metrics.RequestDuration.WithLabelValues(provider, "complete").Observe(time.Since(start).Seconds())

		if err == nil {
			r.metrics.RequestsTotal.WithLabelValues(provider, "complete", "success").Inc()
			r.finalizeSuccess(ctx, fingerprint, req, resp)
			return resp, nil
		}

		r.metrics.RequestsTotal.WithLabelValues(provider, "complete", "error").Inc()
		lastErr = err

		if !r.shouldFailOver(err) {
			r.recordFailure(fingerprint, provider, req.Model, err)
			return nil, err
		}

		r.logger.Warn("provider failed, trying next candidate",
			zap.String("provider", provider),
			zap.String("model", req.Model),
			zap.Error(err))
	}

	r.recordFailure(fingerprint, "", req.Model, lastErr)
	return nil, r.exhausted(req.Model, lastErr)
}

// RouteStream is the streaming variant of Route. Failover applies only to
// stream establishment; once chunks flow the stream is bound to its
// provider. The returned stream accounts for the request when it ends:
// a complete stream is cached and recorded as completed, a broken or
// abandoned one is recorded as partial and never cached.
func (r *Router) RouteStream(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}

	fingerprint := req.Fingerprint()

	if !req.NoCache {
		if entry, err := r.cache.Get(ctx, fingerprint); err == nil {
			r.metrics.CacheHitsTotal.Inc()
			return providers.SingleChunkStream(entry.Response), nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("cache read failed", zap.Error(err))
		}
		r.metrics.CacheMissesTotal.Inc()
	}

	candidates, err := r.selectProviders(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, adapter := range candidates {
		provider := adapter.Name()

		if err := r.allowProvider(ctx, provider); err != nil {
			lastErr = err
			continue
		}

		stream, err := r.executor.ExecuteStream(ctx, provider, func(ctx context.Context) (*providers.Stream, error) {
			return adapter.InvokeStream(ctx, req)
		})
		if err == nil {
			r.metrics.RequestsTotal.WithLabelValues(provider, "stream", "success").Inc()
			return r.accountedStream(ctx, fingerprint, req, stream), nil
		}

		r.metrics.RequestsTotal.WithLabelValues(provider, "stream", "error").Inc()
		lastErr = err

		if !r.shouldFailOver(err) {
			r.recordFailure(fingerprint, provider, req.Model, err)
			return nil, err
		}

		r.logger.Warn("stream establishment failed, trying next candidate",
			zap.String("provider", provider),
			zap.String("model", req.Model),
			zap.Error(err))
	}

	r.recordFailure(fingerprint, "", req.Model, lastErr)
	return nil, r.exhausted(req.Model, lastErr)
}

// ProviderHealth returns the circuit state per provider for readiness
// reporting.
func (r *Router) ProviderHealth() map[string]resilience.State {
	return r.executor.Breakers().States()
}

func (r *Router) validate(req *models.NormalizedRequest) error {
	if len(req.Messages) == 0 {
		return services.NewDomainError(services.ErrorTypeInvalidRequest,
			"messages must not be empty", services.ErrEmptyMessages)
	}
	for _, msg := range req.Messages {
		if msg.Role == "" || msg.Content == "" {
			return services.NewDomainError(services.ErrorTypeInvalidRequest,
				"every message needs a role and content", services.ErrInvalidRequest)
		}
	}

	if req.Model == "" {
		return services.NewDomainError(services.ErrorTypeInvalidRequest,
			"model is required", services.ErrInvalidRequest)
	}
	if !r.registry.SupportsModel(req.Model) {
		return services.NewDomainError(services.ErrorTypeModelNotFound,
			"no provider serves model "+req.Model, services.ErrModelNotFound).
			WithDetail("model", req.Model)
	}

	if t := req.Params.Temperature; t != nil && (*t < 0 || *t > 2) {
		return services.NewDomainError(services.ErrorTypeInvalidRequest,
			"temperature must be between 0 and 2", services.ErrInvalidRequest)
	}
	if p := req.Params.TopP; p != nil && (*p < 0 || *p > 1) {
		return services.NewDomainError(services.ErrorTypeInvalidRequest,
			"top_p must be between 0 and 1", services.ErrInvalidRequest)
	}
	if m := req.Params.MaxTokens; m != nil && *m <= 0 {
		return services.NewDomainError(services.ErrorTypeInvalidRequest,
			"max_tokens must be positive", services.ErrInvalidRequest)
	}

	return nil
}

// selectProviders returns the candidates that serve the model, healthiest
// and most preferred first. A provider hint pins the request to that
// provider when it is registered, serves the model, and its circuit admits
// calls; an unusable hint falls back to the priority order rather than
// failing the request.
func (r *Router) selectProviders(req *models.NormalizedRequest) ([]providers.Adapter, error) {
	breakers := r.executor.Breakers()

	if req.Provider != "" {
		adapter, err := r.registry.Get(req.Provider)
		if err != nil {
			return nil, services.NewDomainError(services.ErrorTypeInvalidRequest,
				"unknown provider "+req.Provider, services.ErrInvalidRequest).
				WithDetail("provider", req.Provider)
		}
		if adapter.SupportsModel(req.Model) && breakers.Healthy(req.Provider) {
			return []providers.Adapter{adapter}, nil
		}
	}

	var healthy, unhealthy []providers.Adapter
	for _, adapter := range r.registry.InPriorityOrder() {
		if !adapter.SupportsModel(req.Model) {
			continue
		}
		if breakers.Healthy(adapter.Name()) {
			healthy = append(healthy, adapter)
		} else {
			unhealthy = append(unhealthy, adapter)
		}
	}

	// Unhealthy providers go last: they fail fast at the breaker but may
	// have recovered by the time the healthy ones are exhausted.
	candidates := append(healthy, unhealthy...)
	if len(candidates) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeExhausted,
			"no provider serves model "+req.Model, services.ErrProvidersExhausted).
			WithDetail("model", req.Model)
	}
	return candidates, nil
}

func (r *Router) allowProvider(ctx context.Context, provider string) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Allow(ctx, provider)
}

func (r *Router) shouldFailOver(err error) bool {
	switch services.GetErrorType(err) {
	case services.ErrorTypeInvalidRequest, services.ErrorTypeModelNotFound:
		return false
	case services.ErrorTypeCanceled:
		// The caller is gone; the next provider would fail the same way.
		return false
	default:
		return true
	}
}

func (r *Router) exhausted(model string, lastErr error) error {
	// When every candidate was skipped at its rate limit the caller should
	// see the 429, not a generic exhaustion.
	if services.IsRateLimitError(lastErr) {
		return lastErr
	}

	domainErr := services.NewDomainError(services.ErrorTypeExhausted,
		"all providers failed for model "+model, services.ErrProvidersExhausted).
		WithDetail("model", model)
	if lastErr != nil {
		domainErr.WithDetail("last_error", lastErr.Error())
	}
	return domainErr
}

// finalizeSuccess caches the response and queues the ledger record. Both
// are best effort: their failure never fails a request that already has an
// answer.
func (r *Router) finalizeSuccess(ctx context.Context, fingerprint string, req *models.NormalizedRequest, resp *models.NormalizedResponse) {
	if err := r.cache.Put(ctx, fingerprint, resp, r.config.CacheTTL); err != nil {
		r.logger.Warn("cache write failed", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	r.record(fingerprint, resp.Provider, resp.Model, models.OutcomeCompleted, resp.Usage, resp.Latency, nil)
}

func (r *Router) recordFailure(fingerprint, provider, model string, err error) {
	if err == nil {
		return
	}
	r.record(fingerprint, provider, model, models.OutcomeFailed, models.Usage{}, 0, err)
}

func (r *Router) record(fingerprint, provider, model string, outcome models.Outcome, usage models.Usage, latency time.Duration, cause error) {
	if r.recorder == nil {
		return
	}

	record := models.NewLedgerRecord(fingerprint, provider, model, outcome)
	record.Usage = usage
	record.LatencyMs = latency.Milliseconds()
	if info, err := r.registry.ModelInfo(model); err == nil {
		record.Cost = info.Cost(usage)
	}
	if cause != nil {
		record.Error = cause.Error()
	}

	if err := r.recorder.Record(record); err != nil {
		r.metrics.LedgerDropsTotal.Inc()
	}
}

// accountedStream wraps a live stream so its outcome is settled exactly
// once when the iterator stops, however it stops.
func (r *Router) accountedStream(ctx context.Context, fingerprint string, req *models.NormalizedRequest, stream *providers.Stream) *providers.Stream {
	seq := func(yield func(models.ResponseChunk, error) bool) {
		start := time.Now()

		var content strings.Builder
		var usage models.Usage
		var finishReason string
		var streamErr error
		abandoned := false

		for chunk, err := range stream.Chunks() {
			if err != nil {
				streamErr = err
				yield(models.ResponseChunk{}, err)
				break
			}

			content.WriteString(chunk.Content)
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}

			if !yield(chunk, nil) {
				abandoned = true
				break
			}
		}

		latency := time.Since(start)

		if streamErr != nil {
			r.record(fingerprint, stream.Provider, stream.Model, models.OutcomePartial, usage, latency, streamErr)
			return
		}
		if abandoned || finishReason == "" {
			// The consumer walked away or the provider never finished;
			// whatever was delivered is incomplete and must not be cached.
			r.record(fingerprint, stream.Provider, stream.Model, models.OutcomePartial, usage, latency, nil)
			return
		}

		resp := &models.NormalizedResponse{
			Provider:     stream.Provider,
			Model:        stream.Model,
			Content:      content.String(),
			FinishReason: finishReason,
			Usage:        usage,
			Latency:      latency,
			Created:      start.UTC(),
		}
		r.finalizeSuccess(ctx, fingerprint, req, resp)
	}

	return providers.NewStream(stream.Provider, stream.Model, seq)
}
