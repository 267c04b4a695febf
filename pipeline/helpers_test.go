package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/ai/mock"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
	"github.com/mstfbysl/ai-clickhouse-pipeline/source"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage/memory"
)

// fakeReader serves records from memory with the same paging contract as
// the SQL reader.
type fakeReader struct {
	// FetchFunc, when set, runs before each fetch; an error fails it.
	FetchFunc func(cursor core.Cursor) error

	mu      sync.Mutex
	records []core.SourceRecord
	fetches int
}

var _ source.Reader = (*fakeReader)(nil)

func newFakeReader(records []core.SourceRecord) *fakeReader {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b core.SourceRecord) int { return cmp.Compare(a.RowID, b.RowID) })
	return &fakeReader{records: sorted}
}

func (r *fakeReader) FetchBatch(ctx context.Context, cursor core.Cursor, size int) ([]core.SourceRecord, core.Cursor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++

	if r.FetchFunc != nil {
		if err := r.FetchFunc(cursor); err != nil {
			return nil, cursor, false, err
		}
	}

	var batch []core.SourceRecord
	next := cursor
	for _, rec := range r.records {
		if rec.Cursor() <= cursor {
			continue
		}
		batch = append(batch, rec)
		next = rec.Cursor()
		if len(batch) == size {
			break
		}
	}
	return batch, next, len(batch) == size, nil
}

func (r *fakeReader) FetchByIDs(ctx context.Context, ids []string) ([]core.SourceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.SourceRecord
	for _, rec := range r.records {
		if slices.Contains(ids, rec.ID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeReader) Count(ctx context.Context, cursor core.Cursor) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.Cursor() > cursor {
			n++
		}
	}
	return n, nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Fetches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func makeRecords(n int) []core.SourceRecord {
	records := make([]core.SourceRecord, n)
	for i := range records {
		records[i] = core.SourceRecord{
			ID:    fmt.Sprintf("rec-%03d", i+1),
			Title: fmt.Sprintf("Ford Focus Wiper Blade %d", i+1),
			RowID: uint64((i + 1) * 10),
		}
	}
	return records
}

// recordingStore records every cursor it was advanced to.
type recordingStore struct {
	*memory.CheckpointStore
	mu      sync.Mutex
	cursors []core.Cursor
}

func newRecordingStore() *recordingStore {
	return &recordingStore{CheckpointStore: memory.NewCheckpointStore("test")}
}

func (s *recordingStore) Advance(ctx context.Context, cursor core.Cursor, processed int) error {
	if err := s.CheckpointStore.Advance(ctx, cursor, processed); err != nil {
		return err
	}
	s.mu.Lock()
	s.cursors = append(s.cursors, cursor)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Cursors() []core.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cursors)
}

type harness struct {
	reader    *fakeReader
	extractor *mock.MockExtractor
	processor *processor.Processor
	sink      *memory.Sink
	store     *recordingStore
	config    *Config
}

func testProcessorConfig() *processor.Config {
	return &processor.Config{
		Concurrency:    10,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func testConfig() *Config {
	return &Config{
		PipelineID:         "test",
		BatchSize:          25,
		MaxBatchRetries:    2,
		BatchRetryDelay:    time.Millisecond,
		BatchRetryMaxDelay: 2 * time.Millisecond,
	}
}

func newHarness(t *testing.T, records []core.SourceRecord) *harness {
	t.Helper()
	return newHarnessWith(t, records, testProcessorConfig())
}

func newHarnessWith(t *testing.T, records []core.SourceRecord, procConfig *processor.Config) *harness {
	t.Helper()
	extractor := mock.NewMockExtractor()
	proc, err := processor.New(extractor, procConfig)
	require.NoError(t, err)
	t.Cleanup(proc.Release)

	return &harness{
		reader:    newFakeReader(records),
		extractor: extractor,
		processor: proc,
		sink:      memory.NewSink(),
		store:     newRecordingStore(),
		config:    testConfig(),
	}
}

func (h *harness) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(h.reader, h.processor, h.sink, h.store, h.config, opts...)
	require.NoError(t, err)
	return o
}

// failTitles makes every title in titles fail permanently with a schema error
// and lets every other title through the default mock behavior.
func failTitles(titles ...string) func(ctx context.Context, title string) (*core.Extraction, error) {
	fallback := mock.NewMockExtractor()
	return func(ctx context.Context, title string) (*core.Extraction, error) {
		if slices.Contains(titles, title) {
			return nil, ai.Permanent("response does not match schema", ai.ErrSchemaViolation)
		}
		return fallback.Extract(ctx, title)
	}
}
