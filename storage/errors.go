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

package storage

import "errors"

var (
	// ErrSinkUnavailable indicates the sink could not be reached or a write
	// failed for a reason that may clear up. The batch may be retried.
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrSinkConflict indicates a write was rejected in a way retrying
	// cannot fix, such as a document validation failure.
	ErrSinkConflict = errors.New("sink conflict")

	// ErrCursorRegression indicates an attempt to move a checkpoint backwards.
	ErrCursorRegression = errors.New("checkpoint cursor regression")

	// ErrCursorOutOfRange indicates a cursor the backend cannot represent.
	ErrCursorOutOfRange = errors.New("checkpoint cursor out of range")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")
)
