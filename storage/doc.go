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

// Package storage defines where pipeline output and progress are persisted.
//
// Two interfaces decouple the orchestrator from the concrete stores:
//
//   - ResultSink: idempotent upserts of extraction results and dead letters
//   - CheckpointStore: the durable, monotonic cursor of a pipeline
//
// # Constructor Return Type Pattern
//
// Public constructors in the backend packages return these interfaces:
//
//	sink, err := mongo.NewResultSink(client, cfg)  // returns storage.ResultSink
//
// Backends:
//
//   - storage/mongo: the production document store
//   - storage/badger: embedded local store, the default checkpoint backend
//   - storage/memory: dry runs and tests
//
// # Record Placement
//
// A record id lives in exactly one place. Writing a result removes any dead
// letter with the same id, and writing a dead letter removes any result.
// Re-committing the same outcomes leaves the store unchanged.
//
// # Error Classes
//
// Commit returns an error wrapping ErrSinkUnavailable when the batch may be
// retried, and ErrSinkConflict when retrying cannot help. The CommitOutcome
// always carries the per-record detail.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
package storage
