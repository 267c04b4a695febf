package pipeline

import (
	"time"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// Observer receives run-level events, typically to export metrics.
type Observer interface {
	// StateChanged is invoked on every state transition.
	StateChanged(state State)

	// BatchCommitted is invoked after a batch was committed and the
	// checkpoint advanced.
	BatchCommitted(succeeded, deadLettered int, duration time.Duration, cursor core.Cursor)

	// CommitFailed is invoked for every failed commit attempt.
	CommitFailed(err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) BatchCommitted(int, int, time.Duration, core.Cursor) {}
func (nopObserver) CommitFailed(error) {}
