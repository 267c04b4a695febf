package source

import "errors"

var (
	// ErrSourceUnavailable is returned when the source store cannot be reached.
	// The orchestrator may retry the fetch.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceSchema is returned when the source table lacks an expected
	// column or holds values that cannot be read. It is fatal.
	ErrSourceSchema = errors.New("source schema error")

	// ErrUnsupportedDialect is returned for an unknown database dialect.
	ErrUnsupportedDialect = errors.New("unsupported source dialect")

	// ErrInvalidBatchSize is returned when a non-positive batch size is requested.
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")
)
