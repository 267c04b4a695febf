package processor

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrExtractorRequired is returned when no AI extractor is provided.
	ErrExtractorRequired = errors.New("AI extractor required")

	// ErrInterrupted is returned when shutdown stops work before it resolved.
	ErrInterrupted = errors.New("processing interrupted")

	// ErrFatal wraps failures that must abort the run, such as rejected credentials.
	ErrFatal = errors.New("fatal processing error")
)
