// Package repositories defines the persistence interfaces the services
// depend on. Concrete implementations live in subpackages.
package repositories

import (
	"context"
	"time"

	"github.com/normalman743/apiforward/models"
)

// LedgerRepository handles usage ledger persistence.
type LedgerRepository interface {
	// Insert writes one ledger record.
	Insert(ctx context.Context, record *models.LedgerRecord) error

	// FindByFingerprint retrieves all records for a request fingerprint,
	// newest first.
	FindByFingerprint(ctx context.Context, fingerprint string) ([]*models.LedgerRecord, error)

	// FindByTimeRange retrieves records created in [from, to), newest
	// first, capped at limit.
	FindByTimeRange(ctx context.Context, from, to time.Time, limit int64) ([]*models.LedgerRecord, error)
}
