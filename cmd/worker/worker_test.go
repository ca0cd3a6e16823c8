package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Ishiihara/chroma/config"
	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/internal/testutil"
	"github.com/Ishiihara/chroma/memberlist"
	"github.com/Ishiihara/chroma/sysdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.GRPCPort = 0
	cfg.Debug.Enabled = false
	cfg.SelfMonitoring.Enabled = false
	cfg.Segment.DataDir = t.TempDir()
	cfg.Compaction.PollInterval = "10ms"
	cfg.Compaction.ScheduleInterval = "20ms"
	cfg.Compaction.NumWriteTasks = 2
	return cfg
}

// chanSource hands out a caller-controlled memberlist channel.
type chanSource chan memberlist.Memberlist

func (c chanSource) Watch(context.Context) (<-chan memberlist.Memberlist, error) { return c, nil }

func TestWorker_CompactsIngestedRecords(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	members := make(chanSource, 1)
	w, err := NewWorker(ctx, WorkerParams{Config: cfg, Membership: members})
	require.NoError(t, err)
	defer w.Close()

	records := testutil.Records("c1", "a", "b", "a", "c", "b")
	n, err := w.Ingest(ctx, "tenant", records)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	segs, err := w.catalog.GetSegments(ctx, sysdb.SegmentFilter{CollectionID: "c1"})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, core.RecordSegmentID("c1"), segs[0].ID)

	// Until the worker sees itself in the memberlist it owns nothing, so the
	// whole batch lands in the log before the first task is scheduled.
	members <- memberlist.Memberlist{cfg.Worker.MyAddress}

	require.Eventually(t, func() bool {
		out, err := w.segments.ReadBlocks("c1")
		return err == nil && len(out) == 3
	}, 10*time.Second, 20*time.Millisecond)

	out, err := w.segments.ReadBlocks("c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, testutil.IDSet(out))
	assert.Empty(t, w.pipeline.FailedJobs())
}

func TestWorker_RejectsBadCompression(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.Compression = "brotli"
	_, err := NewWorker(context.Background(), WorkerParams{Config: cfg})
	assert.Error(t, err)
}

func TestCreateLogger(t *testing.T) {
	_, _, err := createLogger(config.LoggingConfig{Level: "verbose", Output: "stdout"})
	assert.Error(t, err)

	_, _, err = createLogger(config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)

	logger, closer, err := createLogger(config.LoggingConfig{Level: "debug", Output: "none", Format: "json"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
