package config

import "errors"

var (
	// ErrInvalidConfig indicates a configuration value is missing or out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownBackend indicates an unsupported sink or checkpoint backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)
