// Package cache stores completed responses keyed by request fingerprint so
// identical requests can be answered without an upstream call.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/normalman743/apiforward/models"
)

// ErrCacheMiss is returned when no valid entry exists for a fingerprint.
var ErrCacheMiss = errors.New("cache miss")

// Entry is one cached response.
type Entry struct {
	Fingerprint string                     `json:"fingerprint"`
	Response    *models.NormalizedResponse `json:"response"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// Cache is the response cache. Implementations must treat expired entries
// as absent.
type Cache interface {
	// Get returns the entry for a fingerprint or ErrCacheMiss.
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// Put stores a response under its fingerprint with a TTL.
	Put(ctx context.Context, fingerprint string, resp *models.NormalizedResponse, ttl time.Duration) error

	// Delete removes an entry if present.
	Delete(ctx context.Context, fingerprint string) error
}
