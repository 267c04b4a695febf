package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// Server error codes a retry cannot fix.
const (
	codeBadValue                  = 2
	codeDocumentValidationFailure = 121
	codeDuplicateKey              = 11000
)

// ResultSink implements storage.ResultSink on two collections.
type ResultSink struct {
	client      *mongo.Client
	results     *mongo.Collection
	deadLetters *mongo.Collection
	timeout     time.Duration
	owned       bool
	logger      *slog.Logger
}

var _ storage.ResultSink = (*ResultSink)(nil)

// NewResultSink creates a sink on an existing client. The caller keeps
// ownership of the client.
func NewResultSink(client *mongo.Client, config *Config) storage.ResultSink {
	return newResultSink(client, config)
}

// OpenResultSink connects to the configured server and returns a sink that
// disconnects on Close.
func OpenResultSink(ctx context.Context, config *Config) (storage.ResultSink, error) {
	client, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	sink := newResultSink(client, config)
	sink.owned = true
	return sink, nil
}

func newResultSink(client *mongo.Client, config *Config) *ResultSink {
	db := client.Database(config.Database)
	collOpts := options.Collection().SetWriteConcern(writeconcern.Majority())
	return &ResultSink{
		client:      client,
		results:     db.Collection(config.ResultsCollection, collOpts),
		deadLetters: db.Collection(config.DeadLetterCollection, collOpts),
		timeout:     config.OperationTimeout,
		logger:      slog.Default().With("component", "mongo-sink", "database", config.Database),
	}
}

// Commit implements storage.ResultSink.
func (s *ResultSink) Commit(ctx context.Context, results []core.ProcessingResult, deadLetters []core.DeadLetterEntry) (core.CommitOutcome, error) {
	outcome := core.CommitOutcome{Writes: make([]core.RecordWrite, 0, len(results)+len(deadLetters))}
	if len(results)+len(deadLetters) == 0 {
		return outcome, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resultBatch := newBulk(len(results) + len(deadLetters))
	deadBatch := newBulk(len(results) + len(deadLetters))
	for _, r := range results {
		resultBatch.replace(r.RecordID, r)
		deadBatch.remove(r.RecordID)
	}
	for _, d := range deadLetters {
		deadBatch.replace(d.RecordID, d)
		resultBatch.remove(d.RecordID)
	}

	failures := make(map[string]error)
	s.write(ctx, s.results, resultBatch, failures)
	s.write(ctx, s.deadLetters, deadBatch, failures)

	for _, r := range results {
		outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: r.RecordID, Err: failures[r.RecordID]})
	}
	for _, d := range deadLetters {
		outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: d.RecordID, Err: failures[d.RecordID]})
	}

	err := storage.CommitError(outcome)
	if err != nil {
		s.logger.Warn("commit incomplete", "failed", len(failures), "total", len(outcome.Writes))
	}
	return outcome, err
}

// bulk pairs write models with the record ids they belong to.
type bulk struct {
	models []mongo.WriteModel
	ids    []string
}

func newBulk(capacity int) *bulk {
	return &bulk{
		models: make([]mongo.WriteModel, 0, capacity),
		ids:    make([]string, 0, capacity),
	}
}

func (b *bulk) replace(id string, doc any) {
	b.models = append(b.models, mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: "_id", Value: id}}).
		SetReplacement(doc).
		SetUpsert(true))
	b.ids = append(b.ids, id)
}

func (b *bulk) remove(id string) {
	b.models = append(b.models, mongo.NewDeleteOneModel().
		SetFilter(bson.D{{Key: "_id", Value: id}}))
	b.ids = append(b.ids, id)
}

// write runs an unordered bulk write and records the failure of every
// record id whose model did not apply.
func (s *ResultSink) write(ctx context.Context, coll *mongo.Collection, b *bulk, failures map[string]error) {
	if len(b.models) == 0 {
		return
	}

	_, err := coll.BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Index < 0 || we.Index >= len(b.ids) {
				continue
			}
			failures[b.ids[we.Index]] = classifyWriteError(we.Code, we.Message)
		}
		if bwe.WriteConcernError == nil && len(bwe.WriteErrors) > 0 {
			return
		}
	}

	// The whole call failed or its durability is unknown.
	failure := classify(err)
	for _, id := range b.ids {
		if _, ok := failures[id]; !ok {
			failures[id] = failure
		}
	}
}

// classifyWriteError maps a per-document server error to a sink error class.
func classifyWriteError(code int, message string) error {
	switch code {
	case codeBadValue, codeDocumentValidationFailure, codeDuplicateKey:
		return fmt.Errorf("%w: code %d: %s", storage.ErrSinkConflict, code, message)
	default:
		return fmt.Errorf("%w: code %d: %s", storage.ErrSinkUnavailable, code, message)
	}
}

// classify maps a failed call to a sink error class.
func classify(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", storage.ErrSinkConflict, err)
	}
	return fmt.Errorf("%w: %w", storage.ErrSinkUnavailable, err)
}

// DeadLetters implements storage.ResultSink.
func (s *ResultSink) DeadLetters(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "row_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.deadLetters.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classify(err)
	}

	entries := []core.DeadLetterEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// Result returns the stored result for a record id, or nil.
func (s *ResultSink) Result(ctx context.Context, recordID string) (*core.ProcessingResult, error) {
	var result core.ProcessingResult
	err := s.results.FindOne(ctx, bson.D{{Key: "_id", Value: recordID}}).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &result, nil
}

// Close disconnects the client if this sink opened it.
func (s *ResultSink) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
