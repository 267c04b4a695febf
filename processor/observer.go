package processor

import (
	"time"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// Observer receives processing events, typically to export metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	// CallFinished is invoked after every AI call. kind is zero on success.
	CallFinished(kind ai.Kind, duration time.Duration)

	// TokensUsed reports token usage of a successful call.
	TokensUsed(input, output int)

	// RecordResolved is invoked once per record that reached a terminal status.
	RecordResolved(status core.Status, attempts int)
}

type nopObserver struct{}

func (nopObserver) CallFinished(ai.Kind, time.Duration) {}
func (nopObserver) TokensUsed(int, int) {}
func (nopObserver) RecordResolved(core.Status, int) {}
