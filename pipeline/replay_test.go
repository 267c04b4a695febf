package pipeline

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/ai/mock"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

func TestReplay(t *testing.T) {
	records := makeRecords(20)
	h := newHarness(t, records)

	var fixed atomic.Bool
	fallback := mock.NewMockExtractor()
	h.extractor.WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
		if !fixed.Load() && (title == records[3].Title || title == records[7].Title) {
			return nil, ai.Permanent("response does not match schema", ai.ErrSchemaViolation)
		}
		return fallback.Extract(ctx, title)
	})

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.DeadLettered)

	before, err := h.store.Load(context.Background())
	require.NoError(t, err)

	fixed.Store(true)
	report, err = h.orchestrator(t).Replay(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, "replay", report.Mode)
	assert.Equal(t, StateStopped, report.State)
	assert.Equal(t, ExitStopped, report.ExitCode())
	assert.Equal(t, 2, report.Succeeded)

	results, dead := h.sink.Len()
	assert.Equal(t, 20, results)
	assert.Zero(t, dead)

	after, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after, "replay leaves the checkpoint alone")
}

func TestReplay_StillFailing(t *testing.T) {
	records := makeRecords(10)
	h := newHarness(t, records)
	h.extractor.WithExtractFunc(failTitles(records[2].Title))

	_, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	report, err := h.orchestrator(t).Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, ExitStoppedDeadLetters, report.ExitCode())
	assert.Equal(t, 2, h.extractor.CallsFor(records[2].Title))

	_, ok := h.sink.DeadLetter(records[2].ID)
	assert.True(t, ok)
}

func TestReplay_Limit(t *testing.T) {
	records := makeRecords(10)
	h := newHarness(t, records)
	h.extractor.WithExtractFunc(failTitles(records[1].Title, records[5].Title, records[8].Title))

	_, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	h.extractor.Reset()
	report, err := h.orchestrator(t).Replay(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, h.extractor.CallCount())

	_, ok := h.sink.DeadLetter(records[8].ID)
	assert.True(t, ok, "entries past the limit stay dead-lettered")
}

func TestReplay_MissingFromSource(t *testing.T) {
	h := newHarness(t, makeRecords(3))
	_, err := h.sink.Commit(context.Background(), nil, []core.DeadLetterEntry{{RecordID: "gone", RowID: 999}})
	require.NoError(t, err)

	report, err := h.orchestrator(t).Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Processed)
	assert.Zero(t, h.extractor.CallCount())
}

func TestReplay_Empty(t *testing.T) {
	h := newHarness(t, makeRecords(3))

	report, err := h.orchestrator(t).Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, report.State)
	assert.Zero(t, h.sink.Commits())
}
