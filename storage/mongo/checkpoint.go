package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// CheckpointStore implements storage.CheckpointStore with one document per
// pipeline id.
type CheckpointStore struct {
	client     *mongo.Client
	coll       *mongo.Collection
	pipelineID string
	owned      bool
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a store on an existing client. The caller keeps
// ownership of the client.
func NewCheckpointStore(client *mongo.Client, config *Config, pipelineID string) storage.CheckpointStore {
	return newCheckpointStore(client, config, pipelineID)
}

// OpenCheckpointStore connects to the configured server and returns a store
// that disconnects on Close.
func OpenCheckpointStore(ctx context.Context, config *Config, pipelineID string) (storage.CheckpointStore, error) {
	client, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	store := newCheckpointStore(client, config, pipelineID)
	store.owned = true
	return store, nil
}

func newCheckpointStore(client *mongo.Client, config *Config, pipelineID string) *CheckpointStore {
	// Journaled majority writes: Advance must be durable before it returns.
	journal := true
	wc := &writeconcern.WriteConcern{W: "majority", Journal: &journal}

	return &CheckpointStore{
		client: client,
		coll: client.Database(config.Database).Collection(config.CheckpointCollection,
			options.Collection().SetWriteConcern(wc)),
		pipelineID: pipelineID,
	}
}

// Load implements storage.CheckpointStore.
func (s *CheckpointStore) Load(ctx context.Context) (*core.Checkpoint, error) {
	var checkpoint core.Checkpoint
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: s.pipelineID}}).Decode(&checkpoint)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Advance implements storage.CheckpointStore. The filter only matches a
// document whose cursor is not ahead of the new one; when it is ahead, the
// upsert collides on _id and the advance is reported as a regression.
func (s *CheckpointStore) Advance(ctx context.Context, cursor core.Cursor, processed int) error {
	// Cursors are stored as BSON int64.
	if cursor > math.MaxInt64 {
		return fmt.Errorf("%w: %d", storage.ErrCursorOutOfRange, cursor)
	}

	filter := bson.D{
		{Key: "_id", Value: s.pipelineID},
		{Key: "cursor", Value: bson.D{{Key: "$lte", Value: int64(cursor)}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "cursor", Value: int64(cursor)},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
		{Key: "$inc", Value: bson.D{{Key: "records_processed_total", Value: int64(processed)}}},
	}

	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: pipeline %s is past %d", storage.ErrCursorRegression, s.pipelineID, cursor)
	}
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// Reset implements storage.CheckpointStore.
func (s *CheckpointStore) Reset(ctx context.Context) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: s.pipelineID}}); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}

// Close disconnects the client if this store opened it.
func (s *CheckpointStore) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
