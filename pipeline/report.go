package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// Exit codes of a finished run.
const (
	ExitStopped            = 0
	ExitAborted            = 1
	ExitStoppedDeadLetters = 2
)

// RunReport summarizes a run.
type RunReport struct {
	RunID        string        `json:"run_id"`
	PipelineID   string        `json:"pipeline_id"`
	Mode         string        `json:"mode"`
	Model        string        `json:"model,omitempty"`
	State        State         `json:"state"`
	AbortReason  string        `json:"abort_reason,omitempty"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	DeadLettered int           `json:"dead_lettered"`
	Skipped      int           `json:"skipped"`
	Batches      int           `json:"batches"`
	Calls        int           `json:"ai_calls"`
	StartCursor  core.Cursor   `json:"start_cursor"`
	EndCursor    core.Cursor   `json:"end_cursor"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// ExitCode maps the outcome of the run to a process exit code.
func (r *RunReport) ExitCode() int {
	switch {
	case r.State != StateStopped:
		return ExitAborted
	case r.DeadLettered > 0:
		return ExitStoppedDeadLetters
	default:
		return ExitStopped
	}
}

// Rate returns processed records per second.
func (r *RunReport) Rate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Processed) / r.Duration.Seconds()
}

// Save writes the report as indented JSON, creating parent directories.
func (r *RunReport) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (r *RunReport) addBatch(succeeded, deadLettered, skipped int) {
	r.Batches++
	r.Succeeded += succeeded
	r.DeadLettered += deadLettered
	r.Skipped += skipped
	r.Processed += succeeded + deadLettered
}
