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

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/pipeline"
	"github.com/mstfbysl/ai-clickhouse-pipeline/processor"
	"github.com/mstfbysl/ai-clickhouse-pipeline/source"
	"github.com/mstfbysl/ai-clickhouse-pipeline/storage/mongo"
)

// Storage backend names.
const (
	BackendMongo  = "mongo"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the complete configuration of a pipeline run.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Source     SourceConfig     `yaml:"source"`
	AI         AIConfig         `yaml:"ai"`
	Sink       SinkConfig       `yaml:"sink"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// PipelineConfig holds the batch loop and processing limits.
type PipelineConfig struct {
	ID                 string        `yaml:"id"`
	BatchSize          int           `yaml:"batch_size"`
	Concurrency        int           `yaml:"concurrency"`
	MaxRetries         int           `yaml:"max_retries"`
	MaxBatchRetries    int           `yaml:"max_batch_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	BatchRetryDelay    time.Duration `yaml:"batch_retry_delay"`
	BatchRetryMaxDelay time.Duration `yaml:"batch_retry_max_delay"`
	RateLimit          int           `yaml:"rate_limit"`
	RateWindow         time.Duration `yaml:"rate_window"`
	BatchDelay         time.Duration `yaml:"batch_delay"`
	MaxBatches         int           `yaml:"max_batches"`
	ReportInterval     int           `yaml:"report_interval"`
}

// SourceConfig describes the records table.
type SourceConfig struct {
	Dialect            string        `yaml:"dialect"`
	DSN                string        `yaml:"dsn"`
	Table              string        `yaml:"table"`
	IDColumn           string        `yaml:"id_column"`
	TextColumn         string        `yaml:"text_column"`
	CursorColumn       string        `yaml:"cursor_column"`
	MetadataColumns    []string      `yaml:"metadata_columns"`
	Filter             string        `yaml:"filter"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	QueryTimeout       time.Duration `yaml:"query_timeout"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// AIConfig selects and tunes the extraction model.
type AIConfig struct {
	Provider        string        `yaml:"provider"`
	Host            string        `yaml:"host"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	Temperature     float64       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	PromptTemplate  string        `yaml:"prompt_template"`

	// PromptFile is read into PromptTemplate when set.
	PromptFile string `yaml:"prompt_file"`
}

// SinkConfig selects where results and dead letters go.
type SinkConfig struct {
	// Backend is "mongo", "badger" or "memory".
	Backend              string        `yaml:"backend"`
	URI                  string        `yaml:"uri"`
	Database             string        `yaml:"database"`
	ResultsCollection    string        `yaml:"results_collection"`
	DeadLetterCollection string        `yaml:"dead_letter_collection"`
	CheckpointCollection string        `yaml:"checkpoint_collection"`
	MaxPoolSize          uint64        `yaml:"max_pool_size"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	OperationTimeout     time.Duration `yaml:"operation_timeout"`

	// Path is the badger directory when Backend is "badger".
	Path string `yaml:"path"`
}

// CheckpointConfig selects where the cursor is kept.
type CheckpointConfig struct {
	// Backend is "badger", "mongo" (shares the sink connection settings) or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// TelemetryConfig holds logging, metrics and error reporting settings.
type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
	ReportPath  string `yaml:"report_path"`
}

// Default returns a Config built from every component's defaults.
func Default() *Config {
	p := pipeline.DefaultConfig()
	proc := processor.DefaultConfig()
	src := source.DefaultConfig()
	a := ai.DefaultConfig()
	m := mongo.DefaultConfig()

	return &Config{
		Pipeline: PipelineConfig{
			ID:                 p.PipelineID,
			BatchSize:          p.BatchSize,
			Concurrency:        proc.Concurrency,
			MaxRetries:         proc.MaxRetries,
			MaxBatchRetries:    p.MaxBatchRetries,
			RetryBaseDelay:     proc.RetryBaseDelay,
			RetryMaxDelay:      proc.RetryMaxDelay,
			BatchRetryDelay:    p.BatchRetryDelay,
			BatchRetryMaxDelay: p.BatchRetryMaxDelay,
			RateLimit:          proc.RateLimit,
			RateWindow:         proc.RateWindow,
			BatchDelay:         p.BatchDelay,
			MaxBatches:         p.MaxBatches,
			ReportInterval:     p.ReportInterval,
		},
		Source: SourceConfig{
			Dialect:            src.Dialect,
			Table:              src.Table,
			IDColumn:           src.IDColumn,
			TextColumn:         src.TextColumn,
			CursorColumn:       src.CursorColumn,
			MaxOpenConns:       src.MaxOpenConns,
			QueryTimeout:       src.QueryTimeout,
			SlowQueryThreshold: src.SlowQueryThreshold,
		},
		AI: AIConfig{
			Provider:        a.Provider,
			Host:            a.Host,
			Model:           a.Model,
			Temperature:     a.Temperature,
			MaxOutputTokens: a.MaxOutputTokens,
			CallTimeout:     a.CallTimeout,
		},
		Sink: SinkConfig{
			Backend:              BackendMongo,
			URI:                  m.URI,
			Database:             m.Database,
			ResultsCollection:    m.ResultsCollection,
			DeadLetterCollection: m.DeadLetterCollection,
			CheckpointCollection: m.CheckpointCollection,
			MaxPoolSize:          m.MaxPoolSize,
			ConnectTimeout:       m.ConnectTimeout,
			OperationTimeout:     m.OperationTimeout,
			Path:                 "./data/results",
		},
		Checkpoint: CheckpointConfig{
			Backend: BackendBadger,
			Path:    "./data/checkpoints",
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   LogFormatText,
			Environment: "production",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file in the working directory if present, and the
// process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.AI.PromptFile != "" {
		prompt, err := os.ReadFile(cfg.AI.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		cfg.AI.PromptTemplate = string(prompt)
	}
	return cfg, nil
}

// Validate checks every section and the component configs derived from them.
func (c *Config) Validate() error {
	var errs []error

	backends := []string{BackendMongo, BackendBadger, BackendMemory}
	if !slices.Contains(backends, c.Sink.Backend) {
		errs = append(errs, fmt.Errorf("sink: %w: %q", ErrUnknownBackend, c.Sink.Backend))
	}
	if !slices.Contains(backends, c.Checkpoint.Backend) {
		errs = append(errs, fmt.Errorf("checkpoint: %w: %q", ErrUnknownBackend, c.Checkpoint.Backend))
	}
	if c.Sink.Backend == BackendBadger && c.Sink.Path == "" {
		errs = append(errs, fmt.Errorf("%w: sink.path is required for badger", ErrInvalidConfig))
	}
	if c.Checkpoint.Backend == BackendBadger && c.Checkpoint.Path == "" {
		errs = append(errs, fmt.Errorf("%w: checkpoint.path is required for badger", ErrInvalidConfig))
	}
	if c.Sink.Backend == BackendBadger && c.Checkpoint.Backend == BackendBadger && c.Sink.Path == c.Checkpoint.Path {
		errs = append(errs, fmt.Errorf("%w: sink.path and checkpoint.path must differ", ErrInvalidConfig))
	}
	if c.Sink.Backend == BackendMongo || c.Checkpoint.Backend == BackendMongo {
		if err := c.MongoConfig().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Telemetry.LogFormat != LogFormatText && c.Telemetry.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("%w: telemetry.log_format must be text or json", ErrInvalidConfig))
	}

	for _, v := range []interface{ Validate() error }{
		c.PipelineConfig(),
		c.ProcessorConfig(),
		c.SourceConfig(),
		c.AIConfig(),
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PipelineConfig returns the orchestrator settings.
func (c *Config) PipelineConfig() *pipeline.Config {
	return &pipeline.Config{
		PipelineID:         c.Pipeline.ID,
		BatchSize:          c.Pipeline.BatchSize,
		MaxBatchRetries:    c.Pipeline.MaxBatchRetries,
		BatchRetryDelay:    c.Pipeline.BatchRetryDelay,
		BatchRetryMaxDelay: c.Pipeline.BatchRetryMaxDelay,
		BatchDelay:         c.Pipeline.BatchDelay,
		MaxBatches:         c.Pipeline.MaxBatches,
		ReportInterval:     c.Pipeline.ReportInterval,
	}
}

// ProcessorConfig returns the worker pool and retry settings.
func (c *Config) ProcessorConfig() *processor.Config {
	return &processor.Config{
		Concurrency:    c.Pipeline.Concurrency,
		MaxRetries:     c.Pipeline.MaxRetries,
		RetryBaseDelay: c.Pipeline.RetryBaseDelay,
		RetryMaxDelay:  c.Pipeline.RetryMaxDelay,
		RateLimit:      c.Pipeline.RateLimit,
		RateWindow:     c.Pipeline.RateWindow,
		CallTimeout:    c.AI.CallTimeout,
	}
}

// SourceConfig returns the records table settings.
func (c *Config) SourceConfig() *source.Config {
	return &source.Config{
		Dialect:            c.Source.Dialect,
		DSN:                c.Source.DSN,
		Table:              c.Source.Table,
		IDColumn:           c.Source.IDColumn,
		TextColumn:         c.Source.TextColumn,
		CursorColumn:       c.Source.CursorColumn,
		MetadataColumns:    slices.Clone(c.Source.MetadataColumns),
		Filter:             c.Source.Filter,
		MaxOpenConns:       c.Source.MaxOpenConns,
		QueryTimeout:       c.Source.QueryTimeout,
		SlowQueryThreshold: c.Source.SlowQueryThreshold,
	}
}

// AIConfig returns the model provider settings.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithProvider(c.AI.Provider),
		ai.WithHost(c.AI.Host),
		ai.WithModel(c.AI.Model),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithTemperature(c.AI.Temperature),
		ai.WithMaxOutputTokens(c.AI.MaxOutputTokens),
		ai.WithCallTimeout(c.AI.CallTimeout),
		ai.WithPromptTemplate(c.AI.PromptTemplate),
	)
}

// MongoConfig returns the document store settings.
func (c *Config) MongoConfig() *mongo.Config {
	return &mongo.Config{
		URI:                  c.Sink.URI,
		Database:             c.Sink.Database,
		ResultsCollection:    c.Sink.ResultsCollection,
		DeadLetterCollection: c.Sink.DeadLetterCollection,
		CheckpointCollection: c.Sink.CheckpointCollection,
		MaxPoolSize:          c.Sink.MaxPoolSize,
		ConnectTimeout:       c.Sink.ConnectTimeout,
		OperationTimeout:     c.Sink.OperationTimeout,
	}
}
