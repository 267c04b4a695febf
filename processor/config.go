package processor

import (
	"errors"
	"time"
)

// Config holds the concurrency, retry and rate-limit settings of a Processor.
type Config struct {
	// Concurrency is the maximum number of in-flight AI calls.
	Concurrency int

	// MaxRetries is the per-record cap on transient retries.
	// A record is attempted at most 1 + MaxRetries times.
	MaxRetries int

	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps a single backoff pause.
	RetryMaxDelay time.Duration

	// RateLimit is the maximum number of AI calls per RateWindow across all
	// workers. Zero disables rate limiting.
	RateLimit int

	// RateWindow is the window RateLimit applies to.
	RateWindow time.Duration

	// CallTimeout bounds a single AI call.
	CallTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:    10,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  30 * time.Second,
		RateLimit:      60,
		RateWindow:     time.Minute,
		CallTimeout:    30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("processor config: Concurrency must be at least 1")
	}
	if c.MaxRetries < 0 {
		return errors.New("processor config: MaxRetries must not be negative")
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return errors.New("processor config: retry delays must not be negative")
	}
	if c.RetryMaxDelay > 0 && c.RetryMaxDelay < c.RetryBaseDelay {
		return errors.New("processor config: RetryMaxDelay must not be below RetryBaseDelay")
	}
	if c.RateLimit < 0 {
		return errors.New("processor config: RateLimit must not be negative")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return errors.New("processor config: RateWindow must be positive when RateLimit is set")
	}
	if c.CallTimeout <= 0 {
		return errors.New("processor config: CallTimeout must be positive")
	}
	return nil
}

// maxAttempts is the total number of calls allowed per record.
func (c *Config) maxAttempts() int {
	return 1 + c.MaxRetries
}

func (c *Config) backoff() Backoff {
	return Backoff{Base: c.RetryBaseDelay, Max: c.RetryMaxDelay, Jitter: true}
}
