// Package metrics exports pipeline progress as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/mstfbysl/ai-clickhouse-pipeline/pipeline"
	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
)

const namespace = "pipeline"

var states = []pipeline.State{
	pipeline.StateRunning,
	pipeline.StateDraining,
	pipeline.StateStopped,
	pipeline.StateAborted,
}

// PipelineMetrics contains the Prometheus metrics of a pipeline run.
// It observes both the processor and the orchestrator.
type PipelineMetrics struct {
	// AI calls
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	TokensTotal  *prometheus.CounterVec

	// Records
	RecordsTotal   *prometheus.CounterVec
	RecordAttempts prometheus.Histogram

	// Batches
	BatchesTotal   prometheus.Counter
	BatchDuration  prometheus.Histogram
	CommitFailures *prometheus.CounterVec

	// Current state
	CheckpointCursor prometheus.Gauge
	StateGauge       *prometheus.GaugeVec

	registry *prometheus.Registry
}

var (
	_ processor.Observer = (*PipelineMetrics)(nil)
	_ pipeline.Observer  = (*PipelineMetrics)(nil)
)

// NewPipelineMetrics creates the metrics and registers them with registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "Total number of AI calls partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_call_duration_seconds",
			Help:      "Latency of AI calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"outcome"},
	)
	m.TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Total number of tokens used partitioned by direction.",
		},
		[]string{"direction"},
	)

	m.RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of records resolved partitioned by status.",
		},
		[]string{"status"},
	)
	m.RecordAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_attempts",
			Help:      "AI calls needed to resolve a record.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		},
	)

	m.BatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_committed_total",
			Help:      "Total number of committed batches.",
		},
	)
	m.BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time from fetch to checkpoint advance of a batch.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
	)
	m.CommitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_failures_total",
			Help:      "Total number of failed commit attempts partitioned by error class.",
		},
		[]string{"class"},
	)

	m.CheckpointCursor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_cursor",
			Help:      "Cursor of the last committed batch.",
		},
	)
	m.StateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current orchestrator state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)
}

// CallFinished implements processor.Observer.
func (m *PipelineMetrics) CallFinished(kind ai.Kind, duration time.Duration) {
	outcome := "success"
	if kind != 0 {
		outcome = kind.String()
	}
	m.CallsTotal.WithLabelValues(outcome).Inc()
	m.CallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// TokensUsed implements processor.Observer.
func (m *PipelineMetrics) TokensUsed(input, output int) {
	m.TokensTotal.WithLabelValues("input").Add(float64(input))
	m.TokensTotal.WithLabelValues("output").Add(float64(output))
}

// RecordResolved implements processor.Observer.
func (m *PipelineMetrics) RecordResolved(status core.Status, attempts int) {
	m.RecordsTotal.WithLabelValues(string(status)).Inc()
	m.RecordAttempts.Observe(float64(attempts))
}

// StateChanged implements pipeline.Observer.
func (m *PipelineMetrics) StateChanged(state pipeline.State) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StateGauge.WithLabelValues(s.String()).Set(v)
	}
}

// BatchCommitted implements pipeline.Observer.
func (m *PipelineMetrics) BatchCommitted(succeeded, deadLettered int, duration time.Duration, cursor core.Cursor) {
	m.BatchesTotal.Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.CheckpointCursor.Set(float64(cursor))
}

// CommitFailed implements pipeline.Observer.
func (m *PipelineMetrics) CommitFailed(err error) {
	m.CommitFailures.WithLabelValues(errorClass(err)).Inc()
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, storage.ErrSinkConflict):
		return "conflict"
	case errors.Is(err, storage.ErrSinkUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CallsTotal.Describe(ch)
	m.CallDuration.Describe(ch)
	m.TokensTotal.Describe(ch)
	m.RecordsTotal.Describe(ch)
	ch <- m.RecordAttempts.Desc()
	ch <- m.BatchesTotal.Desc()
	ch <- m.BatchDuration.Desc()
	m.CommitFailures.Describe(ch)
	ch <- m.CheckpointCursor.Desc()
	m.StateGauge.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CallsTotal.Collect(ch)
	m.CallDuration.Collect(ch)
	m.TokensTotal.Collect(ch)
	m.RecordsTotal.Collect(ch)
	ch <- m.RecordAttempts
	ch <- m.BatchesTotal
	ch <- m.BatchDuration
	m.CommitFailures.Collect(ch)
	ch <- m.CheckpointCursor
	m.StateGauge.Collect(ch)
}
