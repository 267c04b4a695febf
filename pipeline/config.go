package pipeline

import (
	"errors"
	"time"

	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
)

// Config holds the batch-loop settings of an Orchestrator.
type Config struct {
	// PipelineID names the checkpoint. Runs sharing an id resume each other.
	PipelineID string

	// BatchSize is the number of records per fetch and commit.
	BatchSize int

	// MaxBatchRetries caps retries of a failed fetch or commit.
	MaxBatchRetries int

	// BatchRetryDelay is the base delay between batch retries.
	BatchRetryDelay time.Duration

	// BatchRetryMaxDelay caps a single batch retry pause.
	BatchRetryMaxDelay time.Duration

	// BatchDelay pauses between batches. Zero disables it.
	BatchDelay time.Duration

	// MaxBatches stops the run after this many committed batches.
	// Zero means no limit.
	MaxBatches int

	// ReportInterval logs progress every N records. Zero disables it.
	ReportInterval int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PipelineID:         "fitments",
		BatchSize:          100,
		MaxBatchRetries:    3,
		BatchRetryDelay:    time.Second,
		BatchRetryMaxDelay: 30 * time.Second,
		ReportInterval:     500,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PipelineID == "" {
		return errors.New("pipeline config: PipelineID is required")
	}
	if c.BatchSize < 1 {
		return errors.New("pipeline config: BatchSize must be at least 1")
	}
	if c.MaxBatchRetries < 0 {
		return errors.New("pipeline config: MaxBatchRetries must not be negative")
	}
	if c.BatchRetryDelay < 0 || c.BatchRetryMaxDelay < 0 || c.BatchDelay < 0 {
		return errors.New("pipeline config: delays must not be negative")
	}
	if c.MaxBatches < 0 {
		return errors.New("pipeline config: MaxBatches must not be negative")
	}
	if c.ReportInterval < 0 {
		return errors.New("pipeline config: ReportInterval must not be negative")
	}
	return nil
}

func (c *Config) batchAttempts() int {
	return 1 + c.MaxBatchRetries
}

func (c *Config) backoff() processor.Backoff {
	return processor.Backoff{Base: c.BatchRetryDelay, Max: c.BatchRetryMaxDelay, Jitter: true}
}
