package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// MockExtractor is a test double for ai.Extractor.
// It allows custom behavior injection via function fields and is safe for
// concurrent use by worker pools.
type MockExtractor struct {
	// ExtractFunc is called by Extract if set.
	// If nil, uses default word-based extraction.
	ExtractFunc func(ctx context.Context, title string) (*core.Extraction, error)

	// ModelName is returned by Model. Defaults to "mock-extractor".
	ModelName string

	callCount atomic.Int64

	mu          sync.Mutex
	titleCounts map[string]int
	closed      bool
}

var _ ai.Extractor = (*MockExtractor)(nil)

// NewMockExtractor creates a mock extractor with default behavior.
// Note: Returns concrete type to allow test assertions via CallCount.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{ModelName: "mock-extractor"}
}

// WithExtractFunc sets custom behavior for Extract.
func (m *MockExtractor) WithExtractFunc(fn func(ctx context.Context, title string) (*core.Extraction, error)) *MockExtractor {
	m.ExtractFunc = fn
	return m
}

// Extract returns a mock extraction derived from the title.
// Default behavior: the first word is the brand, the second the model,
// the remainder the category.
func (m *MockExtractor) Extract(ctx context.Context, title string) (*core.Extraction, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	if m.titleCounts == nil {
		m.titleCounts = make(map[string]int)
	}
	m.titleCounts[title]++
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, title)
	}

	if err := ctx.Err(); err != nil {
		return nil, ai.Transient("context done", err)
	}

	words := strings.Fields(title)
	if len(words) < 3 {
		return &core.Extraction{Fitments: []core.Fitment{}, Confidence: 0.1}, nil
	}
	return &core.Extraction{
		Fitments: []core.Fitment{{
			Brand:    words[0],
			Model:    words[1],
			Category: strings.Join(words[2:], " "),
		}},
		Confidence:   0.9,
		InputTokens:  len(words),
		OutputTokens: 3,
	}, nil
}

// Model returns the configured model name.
func (m *MockExtractor) Model() string {
	return m.ModelName
}

// Close marks the extractor closed.
func (m *MockExtractor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// CallCount returns the number of times Extract was called.
func (m *MockExtractor) CallCount() int {
	return int(m.callCount.Load())
}

// CallsFor returns the number of times Extract was called with title.
func (m *MockExtractor) CallsFor(title string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titleCounts[title]
}

// Closed reports whether Close was called.
func (m *MockExtractor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears the call counts and custom functions.
func (m *MockExtractor) Reset() {
	m.callCount.Store(0)
	m.mu.Lock()
	m.titleCounts = nil
	m.mu.Unlock()
	m.ExtractFunc = nil
}
