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

package core

import (
	"time"
)

// Cursor is a position in the source ordering.
// It holds the ordering key (RowID) of the last record consumed; zero means
// the beginning of the source.
type Cursor uint64

// SourceRecord is a single unprocessed row read from the analytical store.
// It is never modified after it has been read.
type SourceRecord struct {
	ID       string
	Title    string            // Free text the attributes are extracted from
	RowID    uint64            // Ordering key backing the cursor
	Metadata map[string]string // Pass-through columns (e.g. "sku", "supplier")
}

// Cursor returns the cursor positioned right after this record.
func (r SourceRecord) Cursor() Cursor {
	return Cursor(r.RowID)
}

// Fitment is one vehicle a part fits, as extracted by the AI service.
type Fitment struct {
	Brand    string `json:"brand" bson:"brand" validate:"required,max=64"`
	Model    string `json:"model" bson:"model" validate:"required,max=64"`
	Submodel string `json:"submodel" bson:"submodel" validate:"max=128"`
	Category string `json:"category" bson:"category" validate:"required,max=128"`
	Years    string `json:"years" bson:"years" validate:"omitempty,years"`
}

// Extraction is the validated, fully typed output of one AI call.
type Extraction struct {
	Fitments     []Fitment `json:"fitments" bson:"fitments" validate:"dive"`
	Confidence   float64   `json:"confidence" bson:"confidence" validate:"gte=0,lte=1"`
	InputTokens  int       `json:"-" bson:"input_tokens"`
	OutputTokens int       `json:"-" bson:"output_tokens"`
}

// Status is the terminal state of a processed record.
type Status string

const (
	// StatusSuccess marks a record whose attributes were extracted and validated.
	StatusSuccess Status = "success"
	// StatusPermanentFailure marks a record routed to the dead-letter collection.
	StatusPermanentFailure Status = "permanent_failure"
)

// ProcessingResult is the outcome of running one SourceRecord through the AI processor.
// Results are keyed by RecordID; a later write replaces an earlier one wholesale.
type ProcessingResult struct {
	RecordID    string      `json:"record_id" bson:"_id"`
	RowID       uint64      `json:"row_id" bson:"row_id"`
	Title       string      `json:"title" bson:"title"`
	Attributes  *Extraction `json:"attributes,omitempty" bson:"attributes,omitempty"`
	Status      Status      `json:"status" bson:"status"`
	ErrorReason string      `json:"error_reason,omitempty" bson:"error_reason,omitempty"`
	Attempts    int         `json:"attempts" bson:"attempts"`
	Model       string      `json:"model,omitempty" bson:"model,omitempty"`
	ProcessedAt time.Time   `json:"processed_at" bson:"processed_at"`
}

// Succeeded reports whether the result carries extracted attributes.
func (r ProcessingResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// DeadLetter converts a failed result into its dead-letter entry.
func (r ProcessingResult) DeadLetter() DeadLetterEntry {
	return DeadLetterEntry{
		RecordID:        r.RecordID,
		RowID:           r.RowID,
		Title:           r.Title,
		ErrorReason:     r.ErrorReason,
		AttemptCount:    r.Attempts,
		LastAttemptedAt: r.ProcessedAt,
	}
}

// DeadLetterEntry records a record that will not be retried automatically.
type DeadLetterEntry struct {
	RecordID        string    `json:"record_id" bson:"_id"`
	RowID           uint64    `json:"row_id" bson:"row_id"`
	Title           string    `json:"title" bson:"title"`
	ErrorReason     string    `json:"error_reason" bson:"error_reason"`
	AttemptCount    int       `json:"attempt_count" bson:"attempt_count"`
	LastAttemptedAt time.Time `json:"last_attempted_at" bson:"last_attempted_at"`
}

// Checkpoint is the durable progress marker of a pipeline.
// There is at most one live checkpoint per PipelineID.
type Checkpoint struct {
	PipelineID            string    `json:"pipeline_id" bson:"_id"`
	Cursor                Cursor    `json:"cursor" bson:"cursor"`
	UpdatedAt             time.Time `json:"updated_at" bson:"updated_at"`
	RecordsProcessedTotal int64     `json:"records_processed_total" bson:"records_processed_total"`
}

// RecordWrite is the per-record result of a sink commit.
type RecordWrite struct {
	RecordID string
	Err      error
}

// CommitOutcome reports, per record, whether a sink commit succeeded.
type CommitOutcome struct {
	Writes []RecordWrite
}

// Committed returns true only if every record in the commit was written.
func (o CommitOutcome) Committed() bool {
	for _, w := range o.Writes {
		if w.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the writes that did not succeed.
func (o CommitOutcome) Failed() []RecordWrite {
	var failed []RecordWrite
	for _, w := range o.Writes {
		if w.Err != nil {
			failed = append(failed, w)
		}
	}
	return failed
}
