package ai

import (
	"context"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// Extractor derives structured vehicle fitments from a product title.
// Implementations must be thread-safe for concurrent use.
type Extractor interface {
	// Extract sends the title to the AI service and returns the validated
	// extraction. Every failure is returned as a *ProcessingError so callers
	// can tell transient, permanent and fatal failures apart.
	Extract(ctx context.Context, title string) (*core.Extraction, error)

	// Model returns the model identifier used for extraction.
	Model() string

	// Close releases resources held by the extractor.
	Close() error
}
