package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
	"github.com/mstfbysl/ai-clickhouse-pipeline/source"
)

// Replay re-processes up to limit dead-lettered records (all of them when
// limit is 0) by reading them back from the source by id. Records that now
// succeed move from the dead letters to the results; records that fail again
// are dead-lettered again with a fresh attempt count. The checkpoint is not
// read or moved.
func (o *Orchestrator) Replay(ctx context.Context, limit int) (*RunReport, error) {
	report := o.newReport("replay")
	logger := o.logger.With("run_id", report.RunID, "mode", report.Mode)
	o.setState(StateRunning)

	entries, err := o.sink.DeadLetters(ctx, limit)
	if err != nil {
		return o.abort(report, fmt.Errorf("list dead letters: %w", err))
	}
	if len(entries) == 0 {
		logger.Info("no dead letters to replay")
		return o.stop(report), nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RecordID
	}

	var records []core.SourceRecord
	attempts, err := processor.RetryWithBackoff(ctx, func() error {
		var fetchErr error
		records, fetchErr = o.reader.FetchByIDs(ctx, ids)
		return fetchErr
	}, o.config.batchAttempts(), o.config.backoff(), func(err error) bool {
		return errors.Is(err, source.ErrSourceUnavailable)
	})
	if err != nil {
		return o.abort(report, fmt.Errorf("%w after %d attempts: %w", ErrFetchFailed, attempts, err))
	}

	if missing := len(entries) - len(records); missing > 0 {
		logger.Warn("dead-lettered records no longer in source", "count", missing)
		report.Skipped += missing
	}
	logger.Info("replaying dead letters", "count", len(records))

	progress := NewProgressTracker(logger, int64(len(records)), o.config.ReportInterval)
	progress.Start()

	for batch := range slices.Chunk(records, o.config.BatchSize) {
		if ctx.Err() != nil {
			o.setState(StateDraining)
			break
		}

		results, deadLetters, err := o.resolve(ctx, report, batch)
		if err != nil {
			return o.abort(report, err)
		}

		report.addBatch(len(results), len(deadLetters), 0)
		progress.Increment(len(batch))
		if o.State() == StateDraining {
			break
		}
	}

	progress.Finish()
	return o.stop(report), nil
}
