package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
)

const keyPrefix = "response:"

// RedisCache stores entries as JSON values with Redis-managed expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the entry for a fingerprint or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	raw, err := c.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, services.WrapPersistence("failed to read cache entry", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is unrecoverable; drop it and report a miss.
		c.client.Del(ctx, keyPrefix+fingerprint)
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Put stores a response under its fingerprint with a TTL.
func (c *RedisCache) Put(ctx context.Context, fingerprint string, resp *models.NormalizedResponse, ttl time.Duration) error {
	entry := Entry{
		Fingerprint: fingerprint,
		Response:    resp,
		CreatedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return services.WrapPersistence("failed to encode cache entry", err)
	}

	if err := c.client.Set(ctx, keyPrefix+fingerprint, raw, ttl).Err(); err != nil {
		return services.WrapPersistence("failed to write cache entry", err)
	}
	return nil
}

// Delete removes an entry if present.
func (c *RedisCache) Delete(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return services.WrapPersistence("failed to delete cache entry", err)
	}
	return nil
}
