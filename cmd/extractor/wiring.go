package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/ai/gemini"
	"github.com/mstfbysl/ai-clickhouse-pipeline/ai/openai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/config"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage/badger"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage/memory"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage/mongo"
)

// loadConfig reads the configuration file and environment, then applies the
// command line flags that were set explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)

	// The file may choose the logging setup when the flags were left alone
	if !c.IsSet("log-level") || !c.IsSet("log-format") {
		level, format := c.String("log-level"), c.String("log-format")
		if !c.IsSet("log-level") && cfg.Telemetry.LogLevel != "" {
			level = cfg.Telemetry.LogLevel
		}
		if !c.IsSet("log-format") && cfg.Telemetry.LogFormat != "" {
			format = cfg.Telemetry.LogFormat
		}
		if err := configureLogger(level, format, c.App.ErrWriter); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFlags overrides configuration values with flags set on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("pipeline-id") {
		cfg.Pipeline.ID = c.String("pipeline-id")
	}
	if c.IsSet("batch-size") {
		cfg.Pipeline.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("concurrency") {
		cfg.Pipeline.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("max-retries") {
		cfg.Pipeline.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("max-batch-retries") {
		cfg.Pipeline.MaxBatchRetries = c.Int("max-batch-retries")
	}
	if c.IsSet("rate-limit") {
		cfg.Pipeline.RateLimit = c.Int("rate-limit")
	}
	if c.IsSet("rate-window") {
		cfg.Pipeline.RateWindow = c.Duration("rate-window")
	}
	if c.IsSet("max-batches") {
		cfg.Pipeline.MaxBatches = c.Int("max-batches")
	}
	if c.IsSet("model") {
		cfg.AI.Model = c.String("model")
	}
	if c.IsSet("report") {
		cfg.Telemetry.ReportPath = c.String("report")
	}
	if c.IsSet("metrics-addr") {
		cfg.Telemetry.MetricsAddr = c.String("metrics-addr")
	}
}

// newExtractor creates the extractor of the configured provider.
func newExtractor(ctx context.Context, cfg *ai.Config) (ai.Extractor, error) {
	cfg.Normalize()
	switch cfg.Provider {
	case ai.ProviderGemini:
		return gemini.NewExtractor(ctx, cfg)
	case ai.ProviderOpenAI:
		return openai.NewExtractor(cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
}

// stores opens the configured sink and checkpoint backends on demand and
// closes everything it opened.
type stores struct {
	cfg     *config.Config
	client  *mongodriver.Client
	closers []func() error
}

func newStores(cfg *config.Config) *stores {
	return &stores{cfg: cfg}
}

func (s *stores) mongoClient(ctx context.Context) (*mongodriver.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	client, err := mongo.Connect(ctx, s.cfg.MongoConfig())
	if err != nil {
		return nil, err
	}
	s.client = client
	s.closers = append(s.closers, func() error {
		return client.Disconnect(context.Background())
	})
	return client, nil
}

// sink opens the result sink.
func (s *stores) sink(ctx context.Context) (storage.ResultSink, error) {
	switch s.cfg.Sink.Backend {
	case config.BackendMongo:
		client, err := s.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		return mongo.NewResultSink(client, s.cfg.MongoConfig()), nil
	case config.BackendBadger:
		sink, err := badger.OpenResultSink(s.cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		s.closers = append(s.closers, sink.Close)
		return sink, nil
	case config.BackendMemory:
		return memory.NewSink(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, s.cfg.Sink.Backend)
	}
}

// checkpoints opens the checkpoint store.
func (s *stores) checkpoints(ctx context.Context) (storage.CheckpointStore, error) {
	id := s.cfg.Pipeline.ID
	switch s.cfg.Checkpoint.Backend {
	case config.BackendMongo:
		client, err := s.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		return mongo.NewCheckpointStore(client, s.cfg.MongoConfig(), id), nil
	case config.BackendBadger:
		store, err := badger.OpenCheckpointStore(s.cfg.Checkpoint.Path, id)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	case config.BackendMemory:
		return memory.NewCheckpointStore(id), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, s.cfg.Checkpoint.Backend)
	}
}

// dryRun returns an in-memory sink and a checkpoint store that starts at the
// durable cursor but never writes it back.
func (s *stores) dryRun(ctx context.Context) (storage.ResultSink, storage.CheckpointStore, error) {
	durable, err := s.checkpoints(ctx)
	if err != nil {
		return nil, nil, err
	}
	cp, err := durable.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}

	scratch := memory.NewCheckpointStore(s.cfg.Pipeline.ID)
	if cp != nil {
		if err := scratch.Advance(ctx, cp.Cursor, 0); err != nil {
			return nil, nil, err
		}
	}
	return memory.NewSink(), scratch, nil
}

// Close closes everything in reverse opening order.
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.Warn("failed to close stores", "error", err)
		return err
	}
	return nil
}
