package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// ResultSink implements storage.ResultSink on a local BadgerDB.
// Each record is written in its own transaction together with the removal
// of its counterpart, so a record id lives under one prefix only.
type ResultSink struct {
	backend *Backend
	owned   bool
}

var _ storage.ResultSink = (*ResultSink)(nil)

// NewResultSink creates a sink on a shared backend. The caller keeps
// ownership of the backend.
func NewResultSink(backend *Backend) *ResultSink {
	return &ResultSink{backend: backend}
}

// OpenResultSink opens a backend at path and returns a sink that closes it
// on Close.
func OpenResultSink(path string) (storage.ResultSink, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, fmt.Errorf("open result sink: %w", err)
	}
	return &ResultSink{backend: backend, owned: true}, nil
}

// Commit implements storage.ResultSink.
func (s *ResultSink) Commit(ctx context.Context, results []core.ProcessingResult, deadLetters []core.DeadLetterEntry) (core.CommitOutcome, error) {
	outcome := core.CommitOutcome{Writes: make([]core.RecordWrite, 0, len(results)+len(deadLetters))}

	for _, r := range results {
		err := s.put(ctx, makeResultKey(r.RecordID), makeDeadLetterKey(r.RecordID), r)
		outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: r.RecordID, Err: err})
	}
	for _, d := range deadLetters {
		err := s.put(ctx, makeDeadLetterKey(d.RecordID), makeResultKey(d.RecordID), d)
		outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: d.RecordID, Err: err})
	}

	return outcome, storage.CommitError(outcome)
}

func (s *ResultSink) put(ctx context.Context, key, counterpart []byte, doc any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSinkUnavailable, err)
	}

	value, err := encode(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSinkConflict, err)
	}

	err = s.backend.Update(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Delete(counterpart)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSinkUnavailable, err)
	}
	return nil
}

// DeadLetters implements storage.ResultSink.
func (s *ResultSink) DeadLetters(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	var entries []core.DeadLetterEntry
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deadLetterPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var entry core.DeadLetterEntry
			if err := iter.Item().Value(func(val []byte) error {
				return decode(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	}, false)
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return nil, fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
		}
		return nil, err
	}

	sortByRowID(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Result returns the stored result for a record id.
func (s *ResultSink) Result(ctx context.Context, recordID string) (*core.ProcessingResult, error) {
	var result *core.ProcessingResult
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeResultKey(recordID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		result = &core.ProcessingResult{}
		return item.Value(func(val []byte) error {
			return decode(val, result)
		})
	}, false)
	return result, err
}

// Close closes the backend if this sink opened it.
func (s *ResultSink) Close() error {
	if s.owned {
		return s.backend.Close()
	}
	return nil
}

func sortByRowID(entries []core.DeadLetterEntry) {
	slices.SortFunc(entries, func(a, b core.DeadLetterEntry) int {
		return cmp.Compare(a.RowID, b.RowID)
	})
}
