package pipeline

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(newBufferLogger(&buf), 100, 10)

	tracker.Start()
	assert.True(t, tracker.started, "should be started")

	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	assert.Equal(t, int64(100), tracker.Current())

	output := buf.String()
	assert.Contains(t, output, "processed=100")
	assert.Contains(t, output, "total=100")
	assert.Contains(t, output, "percent=100")
}

func TestProgressTracker_Interval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(newBufferLogger(&buf), 1000, 100)

	tracker.Start()
	tracker.Increment(50)
	assert.Empty(t, buf.String(), "below the interval nothing is logged")

	tracker.Increment(60)
	assert.Equal(t, 1, strings.Count(buf.String(), "msg=progress"))
}

func TestProgressTracker_UnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(newBufferLogger(&buf), 0, 1)

	tracker.Start()
	tracker.Increment(5)

	output := buf.String()
	assert.Contains(t, output, "processed=5")
	assert.NotContains(t, output, "total=")
}

func TestProgressTracker_GrowingSource(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(newBufferLogger(&buf), 10, 1)

	tracker.Start()
	tracker.Increment(15)
	assert.Contains(t, buf.String(), "total=15")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(newBufferLogger(&buf), 100, 0)

	tracker.Start()
	tracker.Increment(75)
	assert.Empty(t, buf.String(), "interval logging disabled")

	tracker.Finish()
	assert.Contains(t, buf.String(), `msg="progress final"`)
	assert.Contains(t, buf.String(), "processed=75")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(newBufferLogger(&buf), 100, 10)

	tracker.Increment(50)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Equal(t, time.Duration(0), tracker.Elapsed())
}
