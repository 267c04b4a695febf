package mongo

import (
	"errors"
	"time"
)

// Config describes the document store the pipeline writes to.
type Config struct {
	// URI is the MongoDB connection string.
	URI string

	// Database holds every collection below.
	Database string

	// ResultsCollection receives successful and failed results keyed by record id.
	// Default: "results"
	ResultsCollection string

	// DeadLetterCollection receives records that will not be retried.
	// Default: "dead_letters"
	DeadLetterCollection string

	// CheckpointCollection holds one document per pipeline id.
	// Default: "checkpoints"
	CheckpointCollection string

	// MaxPoolSize bounds the driver's connection pool. Default: 10
	MaxPoolSize uint64

	// ConnectTimeout bounds connecting and server selection. Default: 10s
	ConnectTimeout time.Duration

	// OperationTimeout bounds a single commit or checkpoint write. Default: 30s
	OperationTimeout time.Duration
}

// DefaultConfig returns a Config with default collection names and limits.
func DefaultConfig() *Config {
	return &Config{
		URI:                  "mongodb://localhost:27017/?tls=false",
		Database:             "pipeline",
		ResultsCollection:    "results",
		DeadLetterCollection: "dead_letters",
		CheckpointCollection: "checkpoints",
		MaxPoolSize:          10,
		ConnectTimeout:       10 * time.Second,
		OperationTimeout:     30 * time.Second,
	}
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.URI == "" {
		return errors.New("mongo config: URI is required")
	}
	if c.Database == "" {
		return errors.New("mongo config: Database is required")
	}
	if c.ResultsCollection == "" || c.DeadLetterCollection == "" || c.CheckpointCollection == "" {
		return errors.New("mongo config: collection names are required")
	}
	if c.ResultsCollection == c.DeadLetterCollection {
		return errors.New("mongo config: results and dead letters need separate collections")
	}
	if c.MaxPoolSize < 1 {
		return errors.New("mongo config: MaxPoolSize must be at least 1")
	}
	if c.ConnectTimeout <= 0 || c.OperationTimeout <= 0 {
		return errors.New("mongo config: timeouts must be positive")
	}
	return nil
}
