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

package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base * 2^(attempt-1), capped at Max.
// A zero Max leaves the delay uncapped up to the largest time.Duration.
// With Jitter set, the delay is drawn uniformly from [0, capped delay].
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// Delay returns the pause before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	if b.Jitter {
		bound := int64(delay)
		if bound < math.MaxInt64 {
			bound++
		}
		delay = time.Duration(rand.Int64N(bound))
	}
	return delay
}

// RetryWithBackoff retries an operation with exponential backoff.
// maxAttempts: maximum number of attempts (must be > 0)
// retryable: decides whether a failed attempt may be retried; nil retries every error
// Returns the number of attempts made and the error from the last attempt.
//
// The context is checked before every attempt and during every pause. When it
// ends, the returned error wraps both ErrInterrupted and the context error.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, backoff Backoff, retryable func(error) bool) (int, error) {
	if maxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, interrupted(ctx)
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}

		if retryable != nil && !retryable(lastErr) {
			return attempt, lastErr
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			return attempt, lastErr
		}

		delay := backoff.Delay(attempt)
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, interrupted(ctx)
		case <-timer.C:
		}
	}

	return maxAttempts, lastErr
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
}
