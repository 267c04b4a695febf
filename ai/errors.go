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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrEmptyResponse indicates the model returned no usable content.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrTruncatedResponse indicates the model stopped at its token limit.
	ErrTruncatedResponse = errors.New("response truncated at token limit")

	// ErrBlocked indicates the provider refused to answer (safety, recitation).
	ErrBlocked = errors.New("response blocked by provider")

	// ErrSchemaViolation indicates the response did not match the attribute schema.
	ErrSchemaViolation = errors.New("response does not match schema")

	// ErrRateLimited indicates the provider rejected the call due to rate limiting.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrUnauthorized indicates the provider rejected our credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind classifies a processing failure by whether retrying can help.
type Kind int

const (
	// KindTransient failures may succeed when retried (timeouts, 429, 5xx).
	KindTransient Kind = iota + 1
	// KindPermanent failures will not succeed with the same input.
	KindPermanent
	// KindFatal failures affect every record (bad credentials) and abort the run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ProcessingError is the classified error returned by Extractor implementations.
type ProcessingError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable processing error.
func Transient(reason string, err error) *ProcessingError {
	return &ProcessingError{Kind: KindTransient, Reason: reason, Err: err}
}

// Permanent wraps err as a non-retryable processing error.
func Permanent(reason string, err error) *ProcessingError {
	return &ProcessingError{Kind: KindPermanent, Reason: reason, Err: err}
}

// Fatal wraps err as a run-aborting processing error.
func Fatal(reason string, err error) *ProcessingError {
	return &ProcessingError{Kind: KindFatal, Reason: reason, Err: err}
}

// KindOf returns the classification of err.
// Errors that are not ProcessingErrors are classified by Classify.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Classify(err).Kind
}

// Classify turns an arbitrary transport error into a ProcessingError.
// Deadline and network errors are transient; anything unrecognised is
// treated as permanent so it cannot cause unbounded retries.
func Classify(err error) *ProcessingError {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Transient("call canceled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient("network error", err)
	}

	return Permanent("unclassified provider error", err)
}

// ClassifyStatus maps an HTTP status code returned by an AI service to a
// ProcessingError.
func ClassifyStatus(status int, err error) *ProcessingError {
	switch {
	case status == http.StatusTooManyRequests:
		return Transient("rate limited", errors.Join(ErrRateLimited, err))
	case status == http.StatusRequestTimeout:
		return Transient("request timeout", err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Fatal("authentication failed", errors.Join(ErrUnauthorized, err))
	case status >= 500:
		return Transient(fmt.Sprintf("server error %d", status), err)
	case status >= 400:
		return Permanent(fmt.Sprintf("request rejected with %d", status), err)
	default:
		return Classify(err)
	}
}
