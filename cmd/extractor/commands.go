package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/config"
	"github.com/mstfbysl/ai-clickhouse-pipeline/metrics"
	"github.com/mstfbysl/ai-clickhouse-pipeline/pipeline"
	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
	"github.com/mstfbysl/ai-clickhouse-pipeline/source"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
	"github.com/mstfbysl/ai-clickhouse-pipeline/telemetry"
)

// components are the collaborators of one orchestrator run.
type components struct {
	reader      source.Reader
	extractor   ai.Extractor
	sink        storage.ResultSink
	checkpoints storage.CheckpointStore
	metrics     *metrics.PipelineMetrics
}

// mode selects what execute does with the orchestrator.
type mode func(ctx context.Context, o *pipeline.Orchestrator) (*pipeline.RunReport, error)

func runMode(ctx context.Context, o *pipeline.Orchestrator) (*pipeline.RunReport, error) {
	return o.Run(ctx)
}

func replayMode(limit int) mode {
	return func(ctx context.Context, o *pipeline.Orchestrator) (*pipeline.RunReport, error) {
		return o.Replay(ctx, limit)
	}
}

// execute builds the processor and orchestrator from c and runs m.
func execute(ctx context.Context, cfg *config.Config, c components, m mode) (*pipeline.RunReport, error) {
	var procOpts []processor.Option
	var orchOpts []pipeline.Option
	if c.metrics != nil {
		procOpts = append(procOpts, processor.WithObserver(c.metrics))
		orchOpts = append(orchOpts, pipeline.WithObserver(c.metrics))
	}

	proc, err := processor.New(c.extractor, cfg.ProcessorConfig(), procOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}
	defer proc.Release()

	orch, err := pipeline.New(c.reader, proc, c.sink, c.checkpoints, cfg.PipelineConfig(), orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return m(ctx, orch)
}

func runCommand(c *cli.Context) error {
	return pipelineCommand(c, runMode, c.Bool("dry-run"))
}

func replayCommand(c *cli.Context) error {
	return pipelineCommand(c, replayMode(c.Int("limit")), false)
}

// pipelineCommand opens every dependency, runs m and turns the report into
// an exit code.
func pipelineCommand(c *cli.Context, m mode, dryRun bool) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if dryRun {
		// Dry runs never write results
		cfg.Sink.Backend = config.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter, err := telemetry.NewReporter(telemetry.Options{
		DSN:         cfg.Telemetry.SentryDSN,
		Environment: cfg.Telemetry.Environment,
		Release:     "extractor@" + version,
	})
	if err != nil {
		return err
	}
	defer reporter.Flush(5 * time.Second)

	st := newStores(cfg)
	defer st.Close()

	var comps components
	if dryRun {
		comps.sink, comps.checkpoints, err = st.dryRun(ctx)
	} else {
		comps.sink, err = st.sink(ctx)
		if err == nil {
			comps.checkpoints, err = st.checkpoints(ctx)
		}
	}
	if err != nil {
		return err
	}

	reader, err := source.Open(cfg.SourceConfig())
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer reader.Close()
	comps.reader = reader

	extractor, err := newExtractor(ctx, cfg.AIConfig())
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	defer extractor.Close()
	comps.extractor = extractor

	var g errgroup.Group
	serverCtx, stopServer := context.WithCancel(context.Background())
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		registry := prometheus.NewRegistry()
		if comps.metrics, err = metrics.NewPipelineMetrics(registry); err != nil {
			stopServer()
			return err
		}
		server, err := metrics.Listen(addr, registry)
		if err != nil {
			stopServer()
			return err
		}
		g.Go(func() error { return server.Serve(serverCtx) })
	}

	slog.Info("starting",
		"pipeline_id", cfg.Pipeline.ID,
		"provider", cfg.AI.Provider,
		"model", cfg.AI.Model,
		"batch_size", cfg.Pipeline.BatchSize,
		"concurrency", cfg.Pipeline.Concurrency,
		"dry_run", dryRun,
	)
	report, runErr := execute(ctx, cfg, comps, m)

	stopServer()
	if err := g.Wait(); err != nil {
		slog.Warn("metrics server failed", "error", err)
	}

	return finishRun(cfg, reporter, report, runErr)
}

// finishRun saves and logs the report, reports aborts, and maps the outcome
// to an exit code.
func finishRun(cfg *config.Config, reporter *telemetry.Reporter, report *pipeline.RunReport, runErr error) error {
	if report == nil {
		return runErr
	}

	if path := cfg.Telemetry.ReportPath; path != "" {
		if err := report.Save(path); err != nil {
			slog.Error("failed to save report", "path", path, "error", err)
		} else {
			slog.Info("report saved", "path", path)
		}
	}
	reporter.ReportAbort(report, runErr)

	slog.Info("finished",
		"state", report.State,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"dead_lettered", report.DeadLettered,
		"skipped", report.Skipped,
		"batches", report.Batches,
		"ai_calls", report.Calls,
		"rate", fmt.Sprintf("%.1f/s", report.Rate()),
		"duration", report.Duration.Round(time.Millisecond),
	)

	if code := report.ExitCode(); code != pipeline.ExitStopped {
		return &exitError{code: code, err: runErr}
	}
	return nil
}

func checkpointShowCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st := newStores(cfg)
	defer st.Close()

	store, err := st.checkpoints(c.Context)
	if err != nil {
		return err
	}
	cp, err := store.Load(c.Context)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		fmt.Fprintf(c.App.Writer, "no checkpoint for pipeline %q\n", cfg.Pipeline.ID)
		return nil
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(cp)
}

func checkpointResetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("refusing to reset the checkpoint without --yes")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st := newStores(cfg)
	defer st.Close()

	store, err := st.checkpoints(c.Context)
	if err != nil {
		return err
	}
	if err := store.Reset(c.Context); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	slog.Info("checkpoint reset", "pipeline_id", cfg.Pipeline.ID)
	return nil
}

func deadLettersListCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st := newStores(cfg)
	defer st.Close()

	sink, err := st.sink(c.Context)
	if err != nil {
		return err
	}
	entries, err := sink.DeadLetters(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	enc := json.NewEncoder(c.App.Writer)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
