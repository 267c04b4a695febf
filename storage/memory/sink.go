package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// Sink keeps results and dead letters in maps keyed by record id.
type Sink struct {
	// WriteFunc, when set, is called before each record is written. A
	// non-nil error fails that record's write.
	WriteFunc func(recordID string) error

	mu          sync.RWMutex
	results     map[string]core.ProcessingResult
	deadLetters map[string]core.DeadLetterEntry
	commits     int
	closed      bool
}

var _ storage.ResultSink = (*Sink)(nil)

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{
		results:     make(map[string]core.ProcessingResult),
		deadLetters: make(map[string]core.DeadLetterEntry),
	}
}

// Commit implements storage.ResultSink.
func (s *Sink) Commit(ctx context.Context, results []core.ProcessingResult, deadLetters []core.DeadLetterEntry) (core.CommitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commits++
	outcome := core.CommitOutcome{Writes: make([]core.RecordWrite, 0, len(results)+len(deadLetters))}

	if s.closed {
		for _, r := range results {
			outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: r.RecordID, Err: storage.ErrStorageClosed})
		}
		for _, d := range deadLetters {
			outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: d.RecordID, Err: storage.ErrStorageClosed})
		}
		return outcome, storage.CommitError(outcome)
	}

	for _, r := range results {
		err := s.check(ctx, r.RecordID)
		if err == nil {
			s.results[r.RecordID] = r
			delete(s.deadLetters, r.RecordID)
		}
		outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: r.RecordID, Err: err})
	}
	for _, d := range deadLetters {
		err := s.check(ctx, d.RecordID)
		if err == nil {
			s.deadLetters[d.RecordID] = d
			delete(s.results, d.RecordID)
		}
		outcome.Writes = append(outcome.Writes, core.RecordWrite{RecordID: d.RecordID, Err: err})
	}

	return outcome, storage.CommitError(outcome)
}

func (s *Sink) check(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.WriteFunc != nil {
		return s.WriteFunc(id)
	}
	return nil
}

// DeadLetters implements storage.ResultSink.
func (s *Sink) DeadLetters(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]core.DeadLetterEntry, 0, len(s.deadLetters))
	for _, d := range s.deadLetters {
		entries = append(entries, d)
	}
	slices.SortFunc(entries, func(a, b core.DeadLetterEntry) int {
		return cmp.Compare(a.RowID, b.RowID)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Result returns the stored result for id.
func (s *Sink) Result(id string) (core.ProcessingResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// DeadLetter returns the stored dead letter for id.
func (s *Sink) DeadLetter(id string) (core.DeadLetterEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deadLetters[id]
	return d, ok
}

// Results returns every stored result in cursor order.
func (s *Sink) Results() []core.ProcessingResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]core.ProcessingResult, 0, len(s.results))
	for _, r := range s.results {
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b core.ProcessingResult) int {
		return cmp.Compare(a.RowID, b.RowID)
	})
	return results
}

// Len returns the number of stored results and dead letters.
func (s *Sink) Len() (results, deadLetters int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results), len(s.deadLetters)
}

// Commits returns how many times Commit was called.
func (s *Sink) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Close implements storage.ResultSink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
