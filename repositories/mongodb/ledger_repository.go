package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/repositories"
	"github.com/normalman743/apiforward/services"
)

const ledgerCollection = "usage_ledger"

// LedgerRepository implements repositories.LedgerRepository on MongoDB.
type LedgerRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *DB, logger *zap.Logger) repositories.LedgerRepository {
	return &LedgerRepository{
		collection: db.Collection(ledgerCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the indexes the query methods rely on. Safe to call
// on every startup; index creation is idempotent.
func (r *LedgerRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fingerprint", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return services.WrapPersistence("failed to create ledger indexes", err)
	}
	return nil
}

// Insert writes one ledger record.
func (r *LedgerRepository) Insert(ctx context.Context, record *models.LedgerRecord) error {
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return services.WrapPersistence("failed to insert ledger record", err)
	}

	r.logger.Debug("ledger record inserted",
		zap.String("id", record.ID.String()),
		zap.String("provider", record.Provider),
		zap.String("outcome", string(record.Outcome)))
	return nil
}

// FindByFingerprint retrieves all records for a request fingerprint, newest
// first.
func (r *LedgerRepository) FindByFingerprint(ctx context.Context, fingerprint string) ([]*models.LedgerRecord, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"fingerprint": fingerprint},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, services.WrapPersistence("failed to query ledger by fingerprint", err)
	}
	return r.decodeAll(ctx, cursor)
}

// FindByTimeRange retrieves records created in [from, to), newest first,
// capped at limit.
func (r *LedgerRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit int64) ([]*models.LedgerRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	cursor, err := r.collection.Find(ctx,
		bson.M{"created_at": bson.M{"$gte": from, "$lt": to}},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit))
	if err != nil {
		return nil, services.WrapPersistence("failed to query ledger by time range", err)
	}
	return r.decodeAll(ctx, cursor)
}

func (r *LedgerRepository) decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]*models.LedgerRecord, error) {
	defer cursor.Close(ctx)

	records := make([]*models.LedgerRecord, 0)
	for cursor.Next(ctx) {
		var record models.LedgerRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, services.WrapPersistence("failed to decode ledger record", err)
		}
		records = append(records, &record)
	}
	if err := cursor.Err(); err != nil {
		return nil, services.WrapPersistence("ledger cursor failed", err)
	}
	return records, nil
}
