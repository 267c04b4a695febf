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

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mstfbysl/ai-clickhouse-pipeline/config"
	"github.com/mstfbysl/ai-clickhouse-pipeline/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitError carries a process exit code out of a command. It does not
// implement cli.ExitCoder, which would make app.Run call os.Exit.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	os.Exit(run(os.Args))
}

// run executes the CLI and maps its result to an exit code.
func run(args []string) int {
	return exitCode(newApp().Run(args))
}

func exitCode(err error) int {
	var exitErr *exitError
	switch {
	case err == nil:
		return pipeline.ExitStopped
	case errors.As(err, &exitErr):
		if exitErr.err != nil {
			slog.Error("run aborted", "error", exitErr.err)
		}
		return exitErr.code
	default:
		slog.Error("command failed", "error", err)
		return pipeline.ExitAborted
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "extractor",
		Usage:   "Extract vehicle fitments from product titles with an AI model",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set log output format (text, json)",
				Value: config.LogFormatText,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"PIPELINE_CONFIG"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Process records from the last checkpoint until the source is exhausted",
				Action: runCommand,
				Flags:  runFlags(),
			},
			{
				Name:   "replay",
				Usage:  "Re-process dead-lettered records without moving the checkpoint",
				Action: replayCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Replay at most N dead letters (0 for all)",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Maximum number of in-flight AI calls",
					},
					&cli.StringFlag{
						Name:  "report",
						Usage: "Write the run report as JSON to this path",
					},
				},
			},
			{
				Name:  "checkpoint",
				Usage: "Inspect or reset the pipeline checkpoint",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the current checkpoint as JSON",
						Action: checkpointShowCommand,
					},
					{
						Name:   "reset",
						Usage:  "Remove the checkpoint so the next run starts from the beginning",
						Action: checkpointResetCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "yes",
								Usage: "Confirm the reset",
							},
						},
					},
				},
			},
			{
				Name:  "deadletters",
				Usage: "Inspect dead-lettered records",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "Print dead letters as JSON lines in cursor order",
						Action: deadLettersListCommand,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Print at most N entries (0 for all)",
								Value: 100,
							},
						},
					},
				},
			},
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "pipeline-id",
			Usage: "Checkpoint name; runs with the same id resume each other",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Number of records per fetch and commit",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum number of in-flight AI calls",
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Per-record retries of transient AI failures",
		},
		&cli.IntFlag{
			Name:  "max-batch-retries",
			Usage: "Retries of a failed fetch or commit before aborting",
		},
		&cli.IntFlag{
			Name:  "rate-limit",
			Usage: "Maximum AI calls per rate window (0 disables)",
		},
		&cli.DurationFlag{
			Name:  "rate-window",
			Usage: "Window the rate limit applies to",
		},
		&cli.IntFlag{
			Name:  "max-batches",
			Usage: "Stop after N batches (0 for no limit)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "AI model identifier",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Process records without writing results or moving the checkpoint",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write the run report as JSON to this path",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address, e.g. :9090",
		},
	}
}

func setupLogger(c *cli.Context) error {
	return configureLogger(c.String("log-level"), c.String("log-format"), os.Stderr)
}

func configureLogger(levelStr, format string, w io.Writer) error {
	// Normalize to lowercase
	levelStr = strings.ToLower(levelStr)

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case config.LogFormatText, "":
		handler = slog.NewTextHandler(w, opts)
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
