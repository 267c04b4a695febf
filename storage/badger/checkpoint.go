// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// CheckpointRepository implements storage.CheckpointStore for BadgerDB.
type CheckpointRepository struct {
	backend    *Backend
	pipelineID string
	owned      bool
}

var _ storage.CheckpointStore = (*CheckpointRepository)(nil)

// NewCheckpointRepository creates a checkpoint store for pipelineID on a
// shared backend. The caller keeps ownership of the backend.
func NewCheckpointRepository(backend *Backend, pipelineID string) *CheckpointRepository {
	return &CheckpointRepository{
		backend:    backend,
		pipelineID: pipelineID,
	}
}

// OpenCheckpointStore opens a backend at path and returns a store that
// closes it on Close.
func OpenCheckpointStore(path, pipelineID string) (storage.CheckpointStore, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	repo := NewCheckpointRepository(backend, pipelineID)
	repo.owned = true
	return repo, nil
}

// Load retrieves the checkpoint for the pipeline.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) Load(ctx context.Context) (*core.Checkpoint, error) {
	var checkpoint *core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		checkpoint, err = r.get(tx)
		return err
	}, false)

	return checkpoint, err
}

// Advance moves the checkpoint forward in a single transaction.
func (r *CheckpointRepository) Advance(ctx context.Context, cursor core.Cursor, processed int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		current, err := r.get(tx)
		if err != nil {
			return err
		}

		checkpoint := core.Checkpoint{PipelineID: r.pipelineID}
		if current != nil {
			if cursor < current.Cursor {
				return fmt.Errorf("%w: %d < %d", storage.ErrCursorRegression, cursor, current.Cursor)
			}
			checkpoint = *current
		}
		checkpoint.Cursor = cursor
		checkpoint.RecordsProcessedTotal += int64(processed)
		checkpoint.UpdatedAt = time.Now().UTC()

		value, err := encode(checkpoint)
		if err != nil {
			return err
		}
		return tx.Set(makeCheckpointKey(r.pipelineID), value)
	})
}

// Reset deletes the checkpoint.
func (r *CheckpointRepository) Reset(ctx context.Context) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makeCheckpointKey(r.pipelineID))
	})
}

// Close closes the backend if this store opened it.
func (r *CheckpointRepository) Close() error {
	if r.owned {
		return r.backend.Close()
	}
	return nil
}

func (r *CheckpointRepository) get(tx *badger.Txn) (*core.Checkpoint, error) {
	item, err := tx.Get(makeCheckpointKey(r.pipelineID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var checkpoint core.Checkpoint
	if err := item.Value(func(val []byte) error {
		return decode(val, &checkpoint)
	}); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}
