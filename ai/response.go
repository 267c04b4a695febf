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

package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// StripCodeFences removes a surrounding markdown code block, if present.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ParseExtraction decodes and validates a model response.
//
// The decode is strict: unknown fields, trailing data and type mismatches
// are rejected instead of coerced. Every failure is a permanent
// ProcessingError because re-sending the same title is not expected to fix it.
func ParseExtraction(raw string) (*core.Extraction, error) {
	text := StripCodeFences(raw)
	if text == "" {
		return nil, Permanent("empty model output", ErrEmptyResponse)
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var extraction core.Extraction
	if err := dec.Decode(&extraction); err != nil {
		return nil, Permanent("response is not valid JSON for the attribute schema", errors.Join(ErrSchemaViolation, err))
	}
	if err := ensureEOF(dec); err != nil {
		return nil, Permanent("unexpected data after JSON object", errors.Join(ErrSchemaViolation, err))
	}
	if !hasFitmentsKey(text) {
		return nil, Permanent("response is missing the fitments field", ErrSchemaViolation)
	}

	if err := core.ValidateExtraction(&extraction); err != nil {
		return nil, Permanent("schema validation failed", errors.Join(ErrSchemaViolation, err))
	}
	if extraction.Fitments == nil {
		extraction.Fitments = []core.Fitment{}
	}
	return &extraction, nil
}

func ensureEOF(dec *json.Decoder) error {
	var extra json.RawMessage
	err := dec.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("trailing value %s", bytes.TrimSpace(extra))
}

// hasFitmentsKey reports whether the top-level object names "fitments".
// A response without it would otherwise decode into an empty, valid extraction.
func hasFitmentsKey(text string) bool {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return false
	}
	_, ok := top["fitments"]
	return ok
}
