// Package telemetry reports aborted runs to Sentry.
package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mstfbysl/ai-clickhouse-pipeline/pipeline"
)

// Options configure a Reporter.
type Options struct {
	// DSN is the Sentry project DSN. Empty disables reporting.
	DSN         string
	Environment string
	Release     string

	// Transport replaces the HTTP transport, mainly for tests.
	Transport sentry.Transport
}

// Reporter sends fatal run errors to Sentry. A Reporter without a DSN or
// transport does nothing.
type Reporter struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

// NewReporter creates a Reporter with its own Sentry client, leaving the
// global hub untouched.
func NewReporter(opts Options) (*Reporter, error) {
	logger := slog.Default().With("component", "telemetry")
	if opts.DSN == "" && opts.Transport == nil {
		return &Reporter{logger: logger}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		Transport:        opts.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	logger.Info("error reporting enabled", "environment", opts.Environment)
	return &Reporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// Enabled reports whether events are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// ReportAbort sends the abort reason of a run with its counters attached.
// Runs that did not abort are ignored.
func (r *Reporter) ReportAbort(report *pipeline.RunReport, err error) {
	if !r.Enabled() || report == nil || report.State != pipeline.StateAborted {
		return
	}
	if err == nil {
		err = errors.New(report.AbortReason)
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("pipeline_id", report.PipelineID)
		scope.SetTag("run_id", report.RunID)
		scope.SetTag("mode", report.Mode)
		if report.Model != "" {
			scope.SetTag("model", report.Model)
		}
		scope.SetContext("run", map[string]any{
			"processed":     report.Processed,
			"succeeded":     report.Succeeded,
			"dead_lettered": report.DeadLettered,
			"batches":       report.Batches,
			"start_cursor":  uint64(report.StartCursor),
			"end_cursor":    uint64(report.EndCursor),
			"duration":      report.Duration.String(),
		})
		scope.SetFingerprint([]string{"pipeline-abort", report.PipelineID, rootCause(err)})
		r.hub.CaptureException(err)
	})
	r.logger.Debug("abort reported", "run_id", report.RunID)
}

// Flush waits for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

// rootCause returns the innermost message of a wrapped error chain so that
// aborts group by cause instead of by the exact counts in the message.
func rootCause(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
