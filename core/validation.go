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
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// yearsPattern accepts "2018", "2018-" and "2009-2014".
var yearsPattern = regexp.MustCompile(`^(19|20)\d{2}(-((19|20)\d{2})?)?$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func extractionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("years", func(fl validator.FieldLevel) bool {
			return yearsPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateSourceRecord validates a SourceRecord before it is dispatched.
//
// Validation rules:
//   - ID must not be empty
//   - Title must contain non-whitespace text
func ValidateSourceRecord(record SourceRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSourceRecord, ErrEmptyRecordID)
	}
	if strings.TrimSpace(record.Title) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSourceRecord, ErrEmptyTitle)
	}
	return nil
}

// ValidateExtraction checks an Extraction against the attribute schema.
// A nil extraction is invalid. An empty fitment list is valid (universal parts).
func ValidateExtraction(extraction *Extraction) error {
	if extraction == nil {
		return fmt.Errorf("%w: extraction is nil", ErrInvalidExtraction)
	}

	if err := extractionValidator().Struct(extraction); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q (value %v)", ErrInvalidExtraction, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidExtraction, err)
	}

	return nil
}
