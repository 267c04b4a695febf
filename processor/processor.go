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
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// Processor runs SourceRecords through an ai.Extractor under a bounded
// worker pool, a shared rate limit and a per-record retry policy.
type Processor struct {
	extractor ai.Extractor
	config    Config
	pool      *ants.Pool
	limiter   *rate.Limiter
	observer  Observer
	now       func() time.Time
	calls     atomic.Int64
	logger    *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithObserver sets the observer notified of calls and resolved records.
func WithObserver(observer Observer) Option {
	return func(p *Processor) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Processor. The config is copied; later changes to it have no effect.
func New(extractor ai.Extractor, config *Config, opts ...Option) (*Processor, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		extractor: extractor,
		config:    *config,
		observer:  nopObserver{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "processor"),
	}
	for _, opt := range opts {
		opt(p)
	}

	pool, err := ants.NewPool(config.Concurrency, ants.WithLogger(antsLogger{p.logger}))
	if err != nil {
		return nil, err
	}
	p.pool = pool

	if config.RateLimit > 0 {
		every := config.RateWindow / time.Duration(config.RateLimit)
		// One token at a time: calls are spaced evenly, never more than
		// RateLimit in any RateWindow.
		p.limiter = rate.NewLimiter(rate.Every(every), 1)
	} else {
		p.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return p, nil
}

// BatchOutcome is the collected result of dispatching one batch.
type BatchOutcome struct {
	// Results holds one terminal result per resolved record.
	Results []core.ProcessingResult

	// Unresolved holds records that were never dispatched or whose retries
	// were cut short by shutdown.
	Unresolved []core.SourceRecord

	// Calls is the number of AI calls made for this batch.
	Calls int
}

// Resolved reports whether every record reached a terminal status.
func (o BatchOutcome) Resolved() bool {
	return len(o.Unresolved) == 0
}

// recordOutcome is what a worker reports back to the collector.
type recordOutcome struct {
	record core.SourceRecord
	result core.ProcessingResult
	calls  int
	err    error // ErrInterrupted or ErrFatal
}

// ProcessBatch dispatches every record to the worker pool and waits until
// all dispatched records have reported back.
//
// Cancelling ctx stops dispatch and retries; calls already issued run to
// completion on a detached context. A fatal error stops dispatch for the
// rest of the batch and is returned wrapped in ErrFatal after in-flight
// records have reported.
func (p *Processor) ProcessBatch(ctx context.Context, records []core.SourceRecord) (BatchOutcome, error) {
	var outcome BatchOutcome
	if len(records) == 0 {
		return outcome, nil
	}

	batchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	outcomes := make(chan recordOutcome, len(records))
	slots := make(chan struct{}, p.config.Concurrency)

	dispatched := 0
dispatch:
	for i, record := range records {
		select {
		case <-batchCtx.Done():
			outcome.Unresolved = append(outcome.Unresolved, records[i:]...)
			break dispatch
		case slots <- struct{}{}:
		}

		err := p.pool.Submit(func() {
			defer func() { <-slots }()
			out := p.safeProcess(batchCtx, record)
			if errors.Is(out.err, ErrFatal) {
				cancel(out.err)
			}
			outcomes <- out
		})
		if err != nil {
			<-slots
			outcome.Unresolved = append(outcome.Unresolved, records[i:]...)
			p.logger.Error("failed to submit record", "record_id", record.ID, "err", err)
			break
		}
		dispatched++
	}

	var fatal error
	for range dispatched {
		out := <-outcomes
		outcome.Calls += out.calls
		switch {
		case errors.Is(out.err, ErrFatal):
			if fatal == nil {
				fatal = out.err
			}
			outcome.Unresolved = append(outcome.Unresolved, out.record)
		case out.err != nil:
			outcome.Unresolved = append(outcome.Unresolved, out.record)
		default:
			outcome.Results = append(outcome.Results, out.result)
		}
	}

	return outcome, fatal
}

// Process runs a single record through the extractor with retries.
// It returns an error only when the record could not be resolved: either
// wrapping ErrInterrupted (shutdown) or ErrFatal.
func (p *Processor) Process(ctx context.Context, record core.SourceRecord) (core.ProcessingResult, error) {
	out := p.safeProcess(ctx, record)
	return out.result, out.err
}

// Calls returns the total number of AI calls made by this processor.
func (p *Processor) Calls() int64 {
	return p.calls.Load()
}

// Model returns the extractor's model identifier.
func (p *Processor) Model() string {
	return p.extractor.Model()
}

// Release releases the worker pool.
// The processor should not be used after calling Release.
func (p *Processor) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// safeProcess turns a panic inside a worker into a permanent failure so the
// collector always receives an outcome.
// The calls made before the panic still count as attempts.
func (p *Processor) safeProcess(ctx context.Context, record core.SourceRecord) (out recordOutcome) {
	out.record = record
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing record", "record_id", record.ID, "calls", out.calls, "panic", r)
			out.result = p.failure(record, fmt.Sprintf("panic: %v", r), out.calls)
			out.err = nil
			p.observer.RecordResolved(core.StatusPermanentFailure, out.calls)
		}
	}()
	p.process(ctx, &out)
	return out
}

// process resolves out.record, counting every AI call in out.calls as it
// is made.
func (p *Processor) process(ctx context.Context, out *recordOutcome) {
	record := out.record

	if err := core.ValidateSourceRecord(record); err != nil {
		out.result = p.failure(record, err.Error(), 0)
		p.observer.RecordResolved(out.result.Status, 0)
		return
	}

	var extraction *core.Extraction
	operation := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		out.calls++
		p.calls.Add(1)
		start := time.Now()
		result, err := p.call(ctx, record.Title)
		if err != nil {
			pe := ai.Classify(err)
			p.observer.CallFinished(pe.Kind, time.Since(start))
			return pe
		}
		p.observer.CallFinished(0, time.Since(start))
		p.observer.TokensUsed(result.InputTokens, result.OutputTokens)
		extraction = result
		return nil
	}

	_, err := RetryWithBackoff(ctx, operation, p.config.maxAttempts(), p.config.backoff(), func(err error) bool {
		return !errors.Is(err, ErrInterrupted) && ai.KindOf(err) == ai.KindTransient
	})

	switch {
	case err == nil:
		out.result = core.ProcessingResult{
			RecordID:    record.ID,
			RowID:       record.RowID,
			Title:       record.Title,
			Attributes:  extraction,
			Status:      core.StatusSuccess,
			Attempts:    out.calls,
			Model:       p.extractor.Model(),
			ProcessedAt: p.now(),
		}
	case errors.Is(err, ErrInterrupted):
		p.logger.Debug("record interrupted", "record_id", record.ID, "calls", out.calls)
		out.err = err
		return
	case ai.KindOf(err) == ai.KindFatal:
		p.logger.Error("fatal AI error", "record_id", record.ID, "err", err)
		out.err = fmt.Errorf("%w: %w", ErrFatal, err)
		return
	case ai.KindOf(err) == ai.KindTransient:
		out.result = p.failure(record, "retries exhausted: "+err.Error(), out.calls)
	default:
		out.result = p.failure(record, err.Error(), out.calls)
	}

	if out.result.Status == core.StatusPermanentFailure {
		p.logger.Warn("record failed permanently", "record_id", record.ID, "attempts", out.calls, "reason", out.result.ErrorReason)
	}
	p.observer.RecordResolved(out.result.Status, out.calls)
}

// call issues one AI call. It runs detached from ctx cancellation so a
// shutdown never interrupts a call that has already been paid for.
func (p *Processor) call(ctx context.Context, title string) (*core.Extraction, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.CallTimeout)
	defer cancel()
	return p.extractor.Extract(callCtx, title)
}

func (p *Processor) failure(record core.SourceRecord, reason string, attempts int) core.ProcessingResult {
	return core.ProcessingResult{
		RecordID:    record.ID,
		RowID:       record.RowID,
		Title:       record.Title,
		Status:      core.StatusPermanentFailure,
		ErrorReason: reason,
		Attempts:    attempts,
		Model:       p.extractor.Model(),
		ProcessedAt: p.now(),
	}
}

// antsLogger adapts slog to the ants logger interface.
type antsLogger struct {
	logger *slog.Logger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
