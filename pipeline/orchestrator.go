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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
	"github.com/mstfbysl/ai-clickhouse-pipeline/source"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

// BatchProcessor resolves every record of a batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []core.SourceRecord) (processor.BatchOutcome, error)
	Model() string
}

var _ BatchProcessor = (*processor.Processor)(nil)

// Orchestrator runs the batch loop.
type Orchestrator struct {
	reader      source.Reader
	processor   BatchProcessor
	sink        storage.ResultSink
	checkpoints storage.CheckpointStore
	config      Config
	observer    Observer
	newRunID    func() string
	now         func() time.Time
	logger      *slog.Logger

	mu    sync.Mutex
	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the receiver of run events.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for reports.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunID fixes the run id instead of generating one per run.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.newRunID = func() string { return id }
		}
	}
}

// New creates an Orchestrator. config is copied and must not be nil.
func New(
	reader source.Reader,
	proc BatchProcessor,
	sink storage.ResultSink,
	checkpoints storage.CheckpointStore,
	config *Config,
	opts ...Option,
) (*Orchestrator, error) {
	if reader == nil {
		return nil, ErrReaderRequired
	}
	if proc == nil {
		return nil, ErrProcessorRequired
	}
	if sink == nil {
		return nil, ErrSinkRequired
	}
	if checkpoints == nil {
		return nil, ErrCheckpointStoreRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		reader:      reader,
		processor:   proc,
		sink:        sink,
		checkpoints: checkpoints,
		config:      *config,
		observer:    nopObserver{},
		newRunID:    uuid.NewString,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "pipeline", "pipeline_id", o.config.PipelineID)
	return o, nil
}

// State returns the state of the current or last run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	prev := o.state
	o.state = state
	o.mu.Unlock()

	if prev != state {
		o.logger.Info("state changed", "from", prev, "to", state)
		o.observer.StateChanged(state)
	}
}

// Run processes the source from the stored checkpoint until it is exhausted,
// ctx is cancelled, or a fatal error occurs. The report is always returned.
// The error is non-nil exactly when the run ends Aborted.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	report := o.newReport("run")
	logger := o.logger.With("run_id", report.RunID)
	o.setState(StateRunning)

	checkpoint, err := o.checkpoints.Load(ctx)
	if err != nil {
		return o.abort(report, fmt.Errorf("%w: load: %w", ErrCheckpointFailed, err))
	}

	var cursor core.Cursor
	if checkpoint != nil {
		cursor = checkpoint.Cursor
		logger.Info("resuming from checkpoint", "cursor", cursor, "records_processed_total", checkpoint.RecordsProcessedTotal)
	} else {
		logger.Info("no checkpoint, starting from the beginning")
	}
	report.StartCursor = cursor
	report.EndCursor = cursor

	progress := o.startProgress(ctx, logger, cursor)
	deadLettered := make(map[string]struct{})

	for {
		if ctx.Err() != nil {
			o.setState(StateDraining)
			break
		}
		if o.config.MaxBatches > 0 && report.Batches >= o.config.MaxBatches {
			logger.Info("batch limit reached", "batches", report.Batches)
			break
		}

		records, next, hasMore, err := o.fetch(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				o.setState(StateDraining)
				break
			}
			return o.abort(report, err)
		}
		if len(records) == 0 {
			break
		}

		batch, skipped := withoutDeadLettered(records, deadLettered)
		if skipped > 0 {
			logger.Warn("skipping records dead-lettered earlier in this run", "count", skipped)
		}

		started := time.Now()
		results, deadLetters, err := o.resolve(ctx, report, batch)
		if err != nil {
			return o.abort(report, err)
		}

		commitCtx := context.WithoutCancel(ctx)
		if err := o.checkpoints.Advance(commitCtx, next, len(records)); err != nil {
			return o.abort(report, fmt.Errorf("%w: advance to %d: %w", ErrCheckpointFailed, next, err))
		}

		for _, d := range deadLetters {
			deadLettered[d.RecordID] = struct{}{}
		}
		cursor = next
		report.EndCursor = cursor
		report.addBatch(len(results), len(deadLetters), skipped)
		progress.Increment(len(records))
		o.observer.BatchCommitted(len(results), len(deadLetters), time.Since(started), cursor)
		logger.Debug("batch committed", "cursor", cursor, "succeeded", len(results), "dead_lettered", len(deadLetters))

		if !hasMore || o.State() == StateDraining {
			break
		}
		if err := o.pause(ctx); err != nil {
			o.setState(StateDraining)
			break
		}
	}

	progress.Finish()
	return o.stop(report), nil
}

// resolve dispatches a batch and commits its outcome. Shutdown during
// dispatch moves the run to Draining; a drained batch is still committed when
// every record resolved.
func (o *Orchestrator) resolve(ctx context.Context, report *RunReport, batch []core.SourceRecord) ([]core.ProcessingResult, []core.DeadLetterEntry, error) {
	outcome, err := o.processor.ProcessBatch(ctx, batch)
	report.Calls += outcome.Calls
	if ctx.Err() != nil {
		o.setState(StateDraining)
	}
	if err != nil {
		return nil, nil, err
	}
	if !outcome.Resolved() {
		return nil, nil, fmt.Errorf("%w: %d of %d records unresolved",
			processor.ErrInterrupted, len(outcome.Unresolved), len(batch))
	}

	results, deadLetters := partition(outcome.Results)
	if err := o.commit(context.WithoutCancel(ctx), results, deadLetters); err != nil {
		return nil, nil, err
	}
	return results, deadLetters, nil
}

// fetch reads the next batch, retrying while the source is unavailable.
func (o *Orchestrator) fetch(ctx context.Context, cursor core.Cursor) ([]core.SourceRecord, core.Cursor, bool, error) {
	var (
		records []core.SourceRecord
		next    core.Cursor
		hasMore bool
	)
	attempts, err := processor.RetryWithBackoff(ctx, func() error {
		var fetchErr error
		records, next, hasMore, fetchErr = o.reader.FetchBatch(ctx, cursor, o.config.BatchSize)
		if fetchErr != nil {
			o.logger.Warn("fetch failed", "cursor", cursor, "err", fetchErr)
		}
		return fetchErr
	}, o.config.batchAttempts(), o.config.backoff(), func(err error) bool {
		return errors.Is(err, source.ErrSourceUnavailable)
	})
	if err != nil {
		return nil, cursor, false, fmt.Errorf("%w after %d attempts: %w", ErrFetchFailed, attempts, err)
	}
	return records, next, hasMore, nil
}

// commit writes the batch outcome, retrying the same outcome while the sink
// is unavailable. A conflict is not retried.
func (o *Orchestrator) commit(ctx context.Context, results []core.ProcessingResult, deadLetters []core.DeadLetterEntry) error {
	if len(results)+len(deadLetters) == 0 {
		return nil
	}

	attempts, err := processor.RetryWithBackoff(ctx, func() error {
		_, commitErr := o.sink.Commit(ctx, results, deadLetters)
		if commitErr != nil {
			o.logger.Warn("commit failed", "results", len(results), "dead_letters", len(deadLetters), "err", commitErr)
			o.observer.CommitFailed(commitErr)
		}
		return commitErr
	}, o.config.batchAttempts(), o.config.backoff(), func(err error) bool {
		return !errors.Is(err, storage.ErrSinkConflict)
	})
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrCommitFailed, attempts, err)
	}
	return nil
}

// pause waits BatchDelay between batches.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.config.BatchDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.config.BatchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) startProgress(ctx context.Context, logger *slog.Logger, cursor core.Cursor) *ProgressTracker {
	var total int64
	if o.config.ReportInterval > 0 {
		count, err := o.reader.Count(ctx, cursor)
		if err != nil {
			logger.Warn("could not count pending records", "err", err)
		} else {
			total = count
			logger.Info("pending records", "count", total, "batch_size", o.config.BatchSize)
		}
	}
	progress := NewProgressTracker(logger, total, o.config.ReportInterval)
	progress.Start()
	return progress
}

func (o *Orchestrator) newReport(mode string) *RunReport {
	return &RunReport{
		RunID:      o.newRunID(),
		PipelineID: o.config.PipelineID,
		Mode:       mode,
		Model:      o.processor.Model(),
		StartedAt:  o.now().UTC(),
	}
}

func (o *Orchestrator) finish(report *RunReport, state State) {
	o.setState(state)
	report.State = state
	report.FinishedAt = o.now().UTC()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
}

func (o *Orchestrator) stop(report *RunReport) *RunReport {
	o.finish(report, StateStopped)
	o.logger.Info("run stopped",
		"run_id", report.RunID,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"dead_lettered", report.DeadLettered,
		"batches", report.Batches,
		"ai_calls", report.Calls,
		"cursor", report.EndCursor,
		"duration", report.Duration.Round(time.Millisecond))
	return report
}

func (o *Orchestrator) abort(report *RunReport, reason error) (*RunReport, error) {
	o.finish(report, StateAborted)
	report.AbortReason = reason.Error()
	o.logger.Error("run aborted",
		"run_id", report.RunID,
		"reason", reason,
		"processed", report.Processed,
		"dead_lettered", report.DeadLettered,
		"cursor", report.EndCursor)
	return report, reason
}

// partition splits resolved results into sink results and dead letters.
func partition(outcomes []core.ProcessingResult) ([]core.ProcessingResult, []core.DeadLetterEntry) {
	var results []core.ProcessingResult
	var deadLetters []core.DeadLetterEntry
	for _, r := range outcomes {
		if r.Succeeded() {
			results = append(results, r)
		} else {
			deadLetters = append(deadLetters, r.DeadLetter())
		}
	}
	return results, deadLetters
}

// withoutDeadLettered drops records already dead-lettered in this run.
func withoutDeadLettered(records []core.SourceRecord, deadLettered map[string]struct{}) ([]core.SourceRecord, int) {
	if len(deadLettered) == 0 {
		return records, 0
	}
	batch := make([]core.SourceRecord, 0, len(records))
	for _, r := range records {
		if _, ok := deadLettered[r.ID]; ok {
			continue
		}
		batch = append(batch, r)
	}
	return batch, len(records) - len(batch)
}
