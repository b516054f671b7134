// Package app wires the application dependencies. This is the central
// dependency injection point.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/config"
	"github.com/normalman743/apiforward/internal/observability"
	"github.com/normalman743/apiforward/repositories"
	"github.com/normalman743/apiforward/repositories/mongodb"
	"github.com/normalman743/apiforward/services/cache"
	"github.com/normalman743/apiforward/services/ledger"
	"github.com/normalman743/apiforward/services/providers"
	"github.com/normalman743/apiforward/services/providers/anthropic"
	"github.com/normalman743/apiforward/services/providers/openai"
	"github.com/normalman743/apiforward/services/providers/xai"
	"github.com/normalman743/apiforward/services/ratelimit"
	"github.com/normalman743/apiforward/services/resilience"
	"github.com/normalman743/apiforward/services/routing"
)

// Dependencies holds all application dependencies.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Mongo *mongodb.DB
	Redis *redis.Client

	LedgerRepo repositories.LedgerRepository
	Ledger     *ledger.Service

	Providers *providers.Registry
	Breakers  *resilience.BreakerSet
	Executor  *resilience.Executor
	Cache     cache.Cache
	Limiter   *ratelimit.Service
	Router    *routing.Router

	Metrics      *observability.Metrics
	PromRegistry *prometheus.Registry
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	db, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mongodb: %w", err)
	}
	deps.Mongo = db

	ledgerRepo := mongodb.NewLedgerRepository(db, logger)
	deps.LedgerRepo = ledgerRepo
	if indexed, ok := ledgerRepo.(interface{ EnsureIndexes(context.Context) error }); ok {
		if err := indexed.EnsureIndexes(ctx); err != nil {
			logger.Warn("failed to ensure ledger indexes", zap.Error(err))
		}
	}

	deps.Ledger = ledger.NewService(ledgerRepo, logger, ledger.DefaultConfig())
	if err := deps.Ledger.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ledger service: %w", err)
	}

	deps.PromRegistry = prometheus.NewRegistry()
	deps.Metrics = observability.NewMetrics(deps.PromRegistry)

	// Redis is optional: without it the gateway runs on the in-memory
	// cache and skips rate limiting.
	if cfg.Redis.Addr != "" {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, continuing anyway", zap.Error(err))
		}
		deps.Cache = cache.NewRedisCache(deps.Redis)
		deps.Limiter = ratelimit.NewService(deps.Redis, providerLimits(cfg), logger)
	} else {
		logger.Info("no redis configured, using in-memory cache without rate limiting")
		deps.Cache = cache.NewMemoryCache(cfg.Cache.MaxEntries)
	}

	deps.Breakers = resilience.NewBreakerSet(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.BreakerThreshold,
		Window:           cfg.Resilience.BreakerWindow,
		Cooldown:         cfg.Resilience.BreakerCooldown,
		MaxCooldown:      cfg.Resilience.BreakerMaxCooldown,
	}, deps.circuitTransition)

	deps.Executor = resilience.NewExecutor(resilience.ExecutorConfig{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseBackoff: cfg.Resilience.BaseBackoff,
		MaxBackoff:  cfg.Resilience.MaxBackoff,
		Budget:      cfg.Resilience.RequestBudget,
		ProviderBudgets: map[string]time.Duration{
			"openai":    cfg.Providers.OpenAI.Timeout,
			"anthropic": cfg.Providers.Anthropic.Timeout,
			"xai":       cfg.Providers.XAI.Timeout,
		},
	}, deps.Breakers, logger)

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Providers = registry

	var limiter routing.RateLimiter
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}
	deps.Router = routing.NewRouter(
		registry,
		deps.Executor,
		deps.Cache,
		limiter,
		deps.Ledger,
		deps.Metrics,
		logger,
		routing.Config{CacheTTL: cfg.Cache.TTL},
	)

	logger.Info("dependencies initialized",
		zap.Strings("providers", registry.Names()),
		zap.Bool("redis", deps.Redis != nil))
	return deps, nil
}

// buildRegistry registers an adapter for every provider with an API key.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry(cfg.Providers.Priority)

	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		adapter := openai.New(openai.Config{
			APIKey:  key,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Timeout: cfg.Providers.OpenAI.Timeout,
		})
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("failed to register openai adapter: %w", err)
		}
	}

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		adapter := anthropic.New(anthropic.Config{
			APIKey:  key,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Timeout: cfg.Providers.Anthropic.Timeout,
		})
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("failed to register anthropic adapter: %w", err)
		}
	}

	if key := cfg.Providers.XAI.APIKey; key != "" {
		adapter := xai.New(openai.Config{
			APIKey:  key,
			BaseURL: cfg.Providers.XAI.BaseURL,
			Timeout: cfg.Providers.XAI.Timeout,
		})
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("failed to register xai adapter: %w", err)
		}
	}

	if registry.Count() == 0 {
		logger.Warn("no provider API keys configured, every request will fail")
	}
	return registry, nil
}

func providerLimits(cfg *config.Config) ratelimit.Limits {
	return ratelimit.Limits{
		"openai":    cfg.Providers.OpenAI.MaxRequestsPerMinute,
		"anthropic": cfg.Providers.Anthropic.MaxRequestsPerMinute,
		"xai":       cfg.Providers.XAI.MaxRequestsPerMinute,
	}
}

func (d *Dependencies) circuitTransition(provider string, from, to resilience.State) {
	d.Logger.Warn("circuit breaker transition",
		zap.String("provider", provider),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	d.Metrics.ObserveCircuitTransition(provider, from, to)
}

// Close releases all resources in reverse dependency order.
func (d *Dependencies) Close(ctx context.Context) {
	if d.Ledger != nil {
		if err := d.Ledger.Stop(10 * time.Second); err != nil {
			d.Logger.Warn("ledger service did not stop cleanly", zap.Error(err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if d.Mongo != nil {
		if err := d.Mongo.Close(ctx); err != nil {
			d.Logger.Warn("failed to close mongodb client", zap.Error(err))
		}
	}
}
