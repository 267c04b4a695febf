package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/ai/mock"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

func TestMain(m *testing.M) {
	// ants keeps a package-level default pool with its own janitor goroutines.
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).purgeStaleWorkers"),
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).ticktock"),
	)
}

func testConfig() *Config {
	return &Config{
		Concurrency:    4,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func makeRecords(n int) []core.SourceRecord {
	records := make([]core.SourceRecord, n)
	for i := range records {
		records[i] = core.SourceRecord{
			ID:    fmt.Sprintf("r%03d", i+1),
			Title: fmt.Sprintf("Ford Focus Part %d", i+1),
			RowID: uint64(i + 1),
		}
	}
	return records
}

func newTestProcessor(t *testing.T, extractor ai.Extractor, cfg *Config, opts ...Option) *Processor {
	t.Helper()
	p, err := New(extractor, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

type countingObserver struct {
	mu       sync.Mutex
	calls    map[ai.Kind]int
	resolved map[core.Status]int
	tokens   int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{calls: map[ai.Kind]int{}, resolved: map[core.Status]int{}}
}

func (o *countingObserver) CallFinished(kind ai.Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[kind]++
}

func (o *countingObserver) TokensUsed(input, output int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens += input + output
}

func (o *countingObserver) RecordResolved(status core.Status, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved[status]++
}

func TestNew(t *testing.T) {
	_, err := New(nil, testConfig())
	assert.ErrorIs(t, err, ErrExtractorRequired)

	bad := testConfig()
	bad.Concurrency = 0
	_, err = New(mock.NewMockExtractor(), bad)
	assert.Error(t, err)

	p, err := New(mock.NewMockExtractor(), nil)
	require.NoError(t, err)
	p.Release()
}

func TestProcessBatch_AllSucceed(t *testing.T) {
	extractor := mock.NewMockExtractor()
	observer := newCountingObserver()
	p := newTestProcessor(t, extractor, &Config{
		Concurrency:    10,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		CallTimeout:    time.Second,
	}, WithObserver(observer))

	records := makeRecords(100)
	outcome, err := p.ProcessBatch(context.Background(), records)
	require.NoError(t, err)

	assert.True(t, outcome.Resolved())
	assert.Len(t, outcome.Results, 100)
	assert.Equal(t, 100, outcome.Calls)
	assert.Equal(t, 100, extractor.CallCount())
	assert.Equal(t, int64(100), p.Calls())

	seen := make(map[string]bool)
	for _, r := range outcome.Results {
		assert.Equal(t, core.StatusSuccess, r.Status)
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, "mock-extractor", r.Model)
		require.NotNil(t, r.Attributes)
		seen[r.RecordID] = true
	}
	assert.Len(t, seen, 100, "every record resolves exactly once")
	assert.Equal(t, 100, observer.resolved[core.StatusSuccess])
	assert.Equal(t, 100, observer.calls[0])
}

func TestProcessBatch_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int64
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &core.Extraction{Fitments: []core.Fitment{}, Confidence: 0.5}, nil
	})

	cfg := testConfig()
	cfg.Concurrency = 3
	p := newTestProcessor(t, extractor, cfg)

	outcome, err := p.ProcessBatch(context.Background(), makeRecords(30))
	require.NoError(t, err)
	assert.Len(t, outcome.Results, 30)
	assert.LessOrEqual(t, peak.Load(), int64(3), "never more than Concurrency calls in flight")
}

func TestProcessBatch_PermanentFailureNotRetried(t *testing.T) {
	records := makeRecords(5)
	poison := records[2].Title

	extractor := mock.NewMockExtractor()
	extractor.WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		if title == poison {
			return nil, ai.Permanent("schema validation failed", ai.ErrSchemaViolation)
		}
		return &core.Extraction{Fitments: []core.Fitment{}, Confidence: 0.7}, nil
	})
	p := newTestProcessor(t, extractor, testConfig())

	outcome, err := p.ProcessBatch(context.Background(), records)
	require.NoError(t, err)
	require.True(t, outcome.Resolved())
	require.Len(t, outcome.Results, 5)

	var failed []core.ProcessingResult
	for _, r := range outcome.Results {
		if r.Status == core.StatusPermanentFailure {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, records[2].ID, failed[0].RecordID)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Contains(t, failed[0].ErrorReason, "schema validation failed")
	assert.Equal(t, 1, extractor.CallsFor(poison))
}

func TestProcessBatch_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int64
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		if calls.Add(1) <= 2 {
			return nil, ai.Transient("call timed out", context.DeadlineExceeded)
		}
		return &core.Extraction{Fitments: []core.Fitment{{Brand: "Ford", Model: "Focus", Category: "Wiper"}}, Confidence: 0.8}, nil
	})
	p := newTestProcessor(t, extractor, testConfig())

	outcome, err := p.ProcessBatch(context.Background(), makeRecords(1))
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)

	result := outcome.Results[0]
	assert.Equal(t, core.StatusSuccess, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, extractor.CallCount())
	assert.Equal(t, 3, outcome.Calls)
}

func TestProcessBatch_RetriesExhausted(t *testing.T) {
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		return nil, ai.Transient("rate limited", ai.ErrRateLimited)
	})
	cfg := testConfig()
	cfg.MaxRetries = 2
	p := newTestProcessor(t, extractor, cfg)

	records := makeRecords(4)
	outcome, err := p.ProcessBatch(context.Background(), records)
	require.NoError(t, err, "exhausted retries do not abort the batch")
	require.Len(t, outcome.Results, 4)

	for _, r := range outcome.Results {
		assert.Equal(t, core.StatusPermanentFailure, r.Status)
		assert.Equal(t, 3, r.Attempts)
		assert.Contains(t, r.ErrorReason, "retries exhausted")
	}

	// Bounded call amplification: N * (1 + max_retries)
	assert.Equal(t, len(records)*(1+cfg.MaxRetries), extractor.CallCount())
	assert.LessOrEqual(t, outcome.Calls, len(records)*(1+cfg.MaxRetries))
}

func TestProcessBatch_InvalidRecord(t *testing.T) {
	extractor := mock.NewMockExtractor()
	p := newTestProcessor(t, extractor, testConfig())

	outcome, err := p.ProcessBatch(context.Background(), []core.SourceRecord{{ID: "blank", Title: "  ", RowID: 1}})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, core.StatusPermanentFailure, outcome.Results[0].Status)
	assert.Equal(t, 0, outcome.Results[0].Attempts)
	assert.Equal(t, 0, extractor.CallCount(), "malformed records never reach the AI service")
}

func TestProcessBatch_FatalStopsDispatch(t *testing.T) {
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		return nil, ai.Fatal("authentication failed", ai.ErrUnauthorized)
	})
	cfg := testConfig()
	cfg.Concurrency = 1
	p := newTestProcessor(t, extractor, cfg)

	records := makeRecords(10)
	outcome, err := p.ProcessBatch(context.Background(), records)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, ai.ErrUnauthorized)

	assert.False(t, outcome.Resolved())
	assert.Empty(t, outcome.Results)
	assert.Len(t, outcome.Unresolved, len(records))
	assert.LessOrEqual(t, extractor.CallCount(), 2, "fatal errors stop further dispatch")
}

func TestProcessBatch_ShutdownLetsInFlightFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		once.Do(func() { close(started) })
		<-release
		// The call context is detached from shutdown.
		if err := ctx.Err(); err != nil {
			return nil, ai.Transient("call canceled", err)
		}
		return &core.Extraction{Fitments: []core.Fitment{}, Confidence: 0.5}, nil
	})
	cfg := testConfig()
	cfg.Concurrency = 1
	p := newTestProcessor(t, extractor, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	records := makeRecords(5)

	done := make(chan BatchOutcome, 1)
	go func() {
		outcome, err := p.ProcessBatch(ctx, records)
		assert.NoError(t, err)
		done <- outcome
	}()

	<-started
	cancel()
	close(release)

	outcome := <-done
	require.Len(t, outcome.Results, 1, "the in-flight record completes")
	assert.Equal(t, core.StatusSuccess, outcome.Results[0].Status)
	assert.False(t, outcome.Resolved())
	assert.Len(t, outcome.Unresolved, 4)
	assert.Equal(t, 1, extractor.CallCount(), "no new dispatch after shutdown")
}

func TestProcessBatch_ShutdownBetweenRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	extractor := mock.NewMockExtractor().WithExtractFunc(func(_ context.Context, title string) (*core.Extraction, error) {
		cancel()
		return nil, ai.Transient("unavailable", errors.New("503"))
	})
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.RetryBaseDelay = 50 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	p := newTestProcessor(t, extractor, cfg)

	outcome, err := p.ProcessBatch(ctx, makeRecords(1))
	require.NoError(t, err)
	assert.Empty(t, outcome.Results, "an interrupted record is not dead-lettered")
	assert.Len(t, outcome.Unresolved, 1)
	assert.Equal(t, 1, extractor.CallCount())
}

func TestProcessBatch_RateLimitShared(t *testing.T) {
	extractor := mock.NewMockExtractor()
	cfg := testConfig()
	cfg.Concurrency = 4
	cfg.RateLimit = 4
	cfg.RateWindow = 200 * time.Millisecond // one call every 50ms
	p := newTestProcessor(t, extractor, cfg)

	start := time.Now()
	outcome, err := p.ProcessBatch(context.Background(), makeRecords(8))
	require.NoError(t, err)
	assert.Len(t, outcome.Results, 8)

	// The first call goes out at once, the other 7 wait 50ms each for a token.
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestProcessBatch_RateLimitPerWindow(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return &core.Extraction{Confidence: 1}, nil
	})

	cfg := testConfig()
	cfg.Concurrency = 10
	cfg.RateLimit = 10
	cfg.RateWindow = 500 * time.Millisecond
	p := newTestProcessor(t, extractor, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RateWindow)
	defer cancel()
	outcome, err := p.ProcessBatch(ctx, makeRecords(40))
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Unresolved)

	// A full bucket at start would let RateLimit extra calls through.
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(stamps), cfg.RateLimit, "calls in the first window")

	// Any RateLimit+1 consecutive calls span at least one window.
	for i := 0; i+cfg.RateLimit < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i+cfg.RateLimit].Sub(stamps[i]), cfg.RateWindow-50*time.Millisecond)
	}
}

func TestProcessBatch_PanicBecomesPermanentFailure(t *testing.T) {
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		panic("boom")
	})
	p := newTestProcessor(t, extractor, testConfig())

	outcome, err := p.ProcessBatch(context.Background(), makeRecords(2))
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	for _, r := range outcome.Results {
		assert.Equal(t, core.StatusPermanentFailure, r.Status)
		assert.Contains(t, r.ErrorReason, "panic: boom")
	}
}

func TestProcessBatch_PanicKeepsAttemptCount(t *testing.T) {
	var calls atomic.Int32
	extractor := mock.NewMockExtractor().WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		if calls.Add(1) < 3 {
			return nil, ai.Transient("rate limited", errors.New("429"))
		}
		panic("boom")
	})
	p := newTestProcessor(t, extractor, testConfig())

	result, err := p.Process(context.Background(), makeRecords(1)[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusPermanentFailure, result.Status)
	assert.Contains(t, result.ErrorReason, "panic: boom")
	assert.Equal(t, 3, result.Attempts)
}

func TestProcess_Single(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := newTestProcessor(t, mock.NewMockExtractor(), testConfig(), WithClock(func() time.Time { return fixed }))

	result, err := p.Process(context.Background(), core.SourceRecord{ID: "x", Title: "Fiat Marea Fender", RowID: 7})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, result.Status)
	assert.Equal(t, uint64(7), result.RowID)
	assert.Equal(t, fixed, result.ProcessedAt)
	assert.Equal(t, "Fiat", result.Attributes.Fitments[0].Brand)
}

func TestProcessBatch_Empty(t *testing.T) {
	p := newTestProcessor(t, mock.NewMockExtractor(), testConfig())
	outcome, err := p.ProcessBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, outcome.Resolved())
	assert.Empty(t, outcome.Results)
}
