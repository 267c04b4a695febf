package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// ProgressTracker tracks and logs progress of a run.
// A total of zero means the total is unknown.
type ProgressTracker struct {
	logger         *slog.Logger
	total          int64
	current        int64
	reportInterval int64
	lastReported   int64
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker creates a new progress tracker.
// total: records expected in this run, or 0 if unknown
// reportInterval: log progress every N records; 0 disables interval logging
func NewProgressTracker(logger *slog.Logger, total int64, reportInterval int) *ProgressTracker {
	return &ProgressTracker{
		logger:         logger,
		total:          total,
		reportInterval: int64(reportInterval),
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.lastReported = 0
}

// Increment increases the current progress by the specified amount.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current += int64(delta)
	// The source may grow during a run
	if p.total > 0 && p.current > p.total {
		p.total = p.current
	}

	if p.reportInterval > 0 && p.current-p.lastReported >= p.reportInterval {
		p.report("progress")
		p.lastReported = p.current
	}
}

// Current returns the number of records counted so far.
func (p *ProgressTracker) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Finish logs the final progress.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.report("progress final")
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}

	return time.Since(p.startTime)
}

// report logs the current progress. Must be called with lock held.
func (p *ProgressTracker) report(msg string) {
	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.current) / elapsed.Seconds()
	}

	attrs := []any{"processed", p.current, "rate", fmtRate(rate), "elapsed", elapsed.Round(time.Millisecond)}
	if p.total > 0 {
		percentage := float64(p.current) / float64(p.total) * 100.0
		remaining := time.Duration(0)
		if rate > 0 {
			remaining = time.Duration(float64(p.total-p.current) / rate * float64(time.Second))
		}
		attrs = append(attrs, "total", p.total, "percent", fmtRate(percentage), "eta", remaining.Round(time.Second))
	}
	p.logger.Info(msg, attrs...)
}

// fmtRate rounds to one decimal for log output.
func fmtRate(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
