package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// ResultSink persists the outcome of a batch.
// Implementations must be thread-safe and support concurrent access.
type ResultSink interface {
	// Commit upserts results and dead letters keyed by record id, replacing
	// any previous document for the same id. Each record is reported in the
	// returned outcome. A non-nil error means at least one record was not
	// written; it wraps ErrSinkUnavailable or ErrSinkConflict.
	Commit(ctx context.Context, results []core.ProcessingResult, deadLetters []core.DeadLetterEntry) (core.CommitOutcome, error)

	// DeadLetters lists up to limit dead-lettered records in cursor order.
	// A limit of 0 or less returns all of them.
	DeadLetters(ctx context.Context, limit int) ([]core.DeadLetterEntry, error)

	// Close releases the sink's resources.
	Close() error
}

// CheckpointStore persists the cursor of a single pipeline.
type CheckpointStore interface {
	// Load returns the current checkpoint, or nil if the pipeline never
	// advanced.
	Load(ctx context.Context) (*core.Checkpoint, error)

	// Advance durably moves the cursor forward and adds processed to the
	// running total. It returns ErrCursorRegression if cursor is lower than
	// the stored one. Advancing to the current cursor is allowed.
	Advance(ctx context.Context, cursor core.Cursor, processed int) error

	// Reset removes the checkpoint so the next run starts from the beginning.
	Reset(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// CommitError summarizes the failed writes of an outcome into one error.
// class is ErrSinkConflict if any write conflicted, otherwise
// ErrSinkUnavailable. Returns nil when every write succeeded.
func CommitError(outcome core.CommitOutcome) error {
	failed := outcome.Failed()
	if len(failed) == 0 {
		return nil
	}

	class := ErrSinkUnavailable
	errs := make([]error, 0, len(failed))
	for _, w := range failed {
		if errors.Is(w.Err, ErrSinkConflict) {
			class = ErrSinkConflict
		}
		errs = append(errs, fmt.Errorf("record %s: %w", w.RecordID, w.Err))
	}
	return fmt.Errorf("%w: %d of %d writes failed: %w", class, len(failed), len(outcome.Writes), errors.Join(errs...))
}
