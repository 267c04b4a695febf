// Package storagetest holds behavior tests shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// Result builds a successful result for tests.
func Result(id string, rowID uint64) core.ProcessingResult {
	return core.ProcessingResult{
		RecordID: id,
		RowID:    rowID,
		Title:    fmt.Sprintf("FREN BALATASI RENAULT CLIO %d", rowID),
		Attributes: &core.Extraction{
			Fitments: []core.Fitment{{
				Brand:    "Renault",
				Model:    "Clio",
				Category: "Brake Pad",
				Years:    "2012-2019",
			}},
			Confidence: 0.9,
		},
		Status:      core.StatusSuccess,
		Attempts:    1,
		Model:       "test-model",
		ProcessedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// DeadLetter builds a dead letter for tests.
func DeadLetter(id string, rowID uint64) core.DeadLetterEntry {
	return core.DeadLetterEntry{
		RecordID:        id,
		RowID:           rowID,
		Title:           "??",
		ErrorReason:     "response does not match schema",
		AttemptCount:    1,
		LastAttemptedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// RunSinkTests exercises the ResultSink contract against sinks produced by
// newSink. Each subtest gets a fresh, empty sink.
func RunSinkTests(t *testing.T, newSink func(t *testing.T) storage.ResultSink) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		sink := newSink(t)
		outcome, err := sink.Commit(ctx,
			[]core.ProcessingResult{Result("a", 1), Result("b", 2)},
			[]core.DeadLetterEntry{DeadLetter("c", 3)})
		require.NoError(t, err)
		assert.True(t, outcome.Committed())
		assert.Len(t, outcome.Writes, 3)

		dead, err := sink.DeadLetters(ctx, 0)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "c", dead[0].RecordID)
		assert.Equal(t, "response does not match schema", dead[0].ErrorReason)
		assert.Equal(t, 1, dead[0].AttemptCount)
	})

	t.Run("empty commit", func(t *testing.T) {
		sink := newSink(t)
		outcome, err := sink.Commit(ctx, nil, nil)
		require.NoError(t, err)
		assert.True(t, outcome.Committed())
		assert.Empty(t, outcome.Writes)
	})

	t.Run("idempotent", func(t *testing.T) {
		sink := newSink(t)
		results := []core.ProcessingResult{Result("a", 1)}
		dead := []core.DeadLetterEntry{DeadLetter("b", 2), DeadLetter("c", 3)}

		_, err := sink.Commit(ctx, results, dead)
		require.NoError(t, err)
		first, err := sink.DeadLetters(ctx, 0)
		require.NoError(t, err)

		_, err = sink.Commit(ctx, results, dead)
		require.NoError(t, err)
		second, err := sink.DeadLetters(ctx, 0)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("record lives in one place", func(t *testing.T) {
		sink := newSink(t)
		_, err := sink.Commit(ctx, nil, []core.DeadLetterEntry{DeadLetter("a", 1)})
		require.NoError(t, err)

		_, err = sink.Commit(ctx, []core.ProcessingResult{Result("a", 1)}, nil)
		require.NoError(t, err)

		dead, err := sink.DeadLetters(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, dead, "a later success clears the dead letter")
	})

	t.Run("dead letters in cursor order with limit", func(t *testing.T) {
		sink := newSink(t)
		_, err := sink.Commit(ctx, nil, []core.DeadLetterEntry{
			DeadLetter("z", 30), DeadLetter("x", 10), DeadLetter("y", 20),
		})
		require.NoError(t, err)

		dead, err := sink.DeadLetters(ctx, 2)
		require.NoError(t, err)
		require.Len(t, dead, 2)
		assert.Equal(t, "x", dead[0].RecordID)
		assert.Equal(t, "y", dead[1].RecordID)
	})
}

// RunCheckpointTests exercises the CheckpointStore contract. Each subtest
// gets a fresh store for pipelineID.
func RunCheckpointTests(t *testing.T, pipelineID string, newStore func(t *testing.T) storage.CheckpointStore) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		store := newStore(t)
		cp, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("advance", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Advance(ctx, 100, 10))
		require.NoError(t, store.Advance(ctx, 250, 15))

		cp, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, pipelineID, cp.PipelineID)
		assert.Equal(t, core.Cursor(250), cp.Cursor)
		assert.Equal(t, int64(25), cp.RecordsProcessedTotal)
		assert.False(t, cp.UpdatedAt.IsZero())
	})

	t.Run("same cursor", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Advance(ctx, 100, 10))
		require.NoError(t, store.Advance(ctx, 100, 0))

		cp, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, core.Cursor(100), cp.Cursor)
		assert.Equal(t, int64(10), cp.RecordsProcessedTotal)
	})

	t.Run("regression rejected", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Advance(ctx, 100, 10))

		err := store.Advance(ctx, 50, 5)
		assert.ErrorIs(t, err, storage.ErrCursorRegression)

		cp, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, core.Cursor(100), cp.Cursor, "checkpoint is unchanged")
		assert.Equal(t, int64(10), cp.RecordsProcessedTotal)
	})

	t.Run("reset", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Advance(ctx, 100, 10))
		require.NoError(t, store.Reset(ctx))

		cp, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, cp)

		require.NoError(t, store.Advance(ctx, 10, 1), "a reset store accepts any cursor")
	})
}
