// Package mongo implements the result sink and checkpoint store on MongoDB.
//
// Results and dead letters live in separate collections keyed by record id.
// A commit is two unordered bulk writes: each collection gets the replace
// upserts for its own records and deletes for the other collection's ids.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// Connect opens a client and verifies the primary is reachable.
func Connect(ctx context.Context, config *Config) (*mongo.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetConnectTimeout(config.ConnectTimeout).
		SetServerSelectionTimeout(config.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", storage.ErrSinkUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping: %w", storage.ErrSinkUnavailable, err)
	}
	return client, nil
}
