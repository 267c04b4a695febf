package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// CheckpointStore holds a single checkpoint in memory.
type CheckpointStore struct {
	// AdvanceFunc, when set, is called before each advance. A non-nil
	// error fails the advance.
	AdvanceFunc func(cursor core.Cursor) error

	pipelineID string
	mu         sync.Mutex
	checkpoint *core.Checkpoint
	advances   int
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates an empty store for pipelineID.
func NewCheckpointStore(pipelineID string) *CheckpointStore {
	return &CheckpointStore{pipelineID: pipelineID}
}

// Load implements storage.CheckpointStore.
func (s *CheckpointStore) Load(ctx context.Context) (*core.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	cp := *s.checkpoint
	return &cp, nil
}

// Advance implements storage.CheckpointStore.
func (s *CheckpointStore) Advance(ctx context.Context, cursor core.Cursor, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AdvanceFunc != nil {
		if err := s.AdvanceFunc(cursor); err != nil {
			return err
		}
	}

	cp := core.Checkpoint{PipelineID: s.pipelineID}
	if s.checkpoint != nil {
		if cursor < s.checkpoint.Cursor {
			return fmt.Errorf("%w: %d < %d", storage.ErrCursorRegression, cursor, s.checkpoint.Cursor)
		}
		cp = *s.checkpoint
	}
	cp.Cursor = cursor
	cp.RecordsProcessedTotal += int64(processed)
	cp.UpdatedAt = time.Now().UTC()
	s.checkpoint = &cp
	s.advances++
	return nil
}

// Reset implements storage.CheckpointStore.
func (s *CheckpointStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = nil
	return nil
}

// Advances returns the number of successful advances.
func (s *CheckpointStore) Advances() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advances
}

// Close implements storage.CheckpointStore.
func (s *CheckpointStore) Close() error {
	return nil
}
