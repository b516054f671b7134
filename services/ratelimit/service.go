// Package ratelimit enforces per-provider request rate limits over Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/services"
)

// Limits maps provider names to their allowed requests per minute. A zero
// or absent limit means unlimited.
type Limits map[string]int

// Service counts requests in fixed one-minute windows using Redis INCR with
// a window-length expiry. Counting degrades open: if Redis is unreachable
// the request is allowed and the outage logged, so a cache outage cannot
// take down the gateway.
type Service struct {
	client *redis.Client
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the limiter. client may be nil, in which case all
// requests are allowed.
func NewService(client *redis.Client, limits Limits, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client: client,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Allow counts one request against the provider's minute window. It returns
// a rate_limited error when the limit is exceeded; the request has already
// been counted at that point.
func (s *Service) Allow(ctx context.Context, provider string) error {
	limit := s.limits[provider]
	if limit <= 0 || s.client == nil {
		return nil
	}

	key := s.windowKey(provider)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("rate limit check degraded open",
			zap.String("provider", provider),
			zap.Error(err))
		return nil
	}

	if count := incr.Val(); count > int64(limit) {
		return services.NewDomainError(services.ErrorTypeRateLimited,
			fmt.Sprintf("provider %s rate limit of %d requests per minute exceeded", provider, limit),
			services.ErrRateLimited).
			WithDetail("provider", provider).
			WithDetail("limit", fmt.Sprintf("%d", limit))
	}
	return nil
}

func (s *Service) windowKey(provider string) string {
	return fmt.Sprintf("ratelimit:%s:%s", provider, s.now().UTC().Format("200601021504"))
}
