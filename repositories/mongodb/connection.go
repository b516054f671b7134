// Package mongodb implements the repositories interfaces on MongoDB.
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/normalman743/apiforward/services"
)

// DB wraps the client and the application database handle.
type DB struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect establishes and verifies a connection.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*DB, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, services.WrapPersistence("failed to connect to mongodb", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, services.WrapPersistence("failed to ping mongodb", err)
	}

	return &DB{
		client:   client,
		database: client.Database(database),
	}, nil
}

// Ping verifies the connection is still alive.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.client.Ping(ctx, readpref.Primary()); err != nil {
		return services.WrapPersistence("mongodb ping failed", err)
	}
	return nil
}

// Close disconnects the client.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Collection returns a handle to a named collection.
func (db *DB) Collection(name string) *mongo.Collection {
	return db.database.Collection(name)
}
