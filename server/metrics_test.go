package server

import (
	"context"
	"testing"
	"time"

	"github.com/Ishiihara/chroma/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemCollector_Collect(t *testing.T) {
	sc := NewSystemCollector(t.TempDir(), 200*time.Millisecond, nil, nil)
	if sc.proc == nil {
		t.Skip("process metrics unavailable on this platform")
	}
	sc.Collect(context.Background())
	m := sc.Metrics()
	assert.Greater(t, m.ProcessRSSBytes.Value(), int64(0))
	assert.GreaterOrEqual(t, m.DiskUsagePercent.Value(), 0.0)
	assert.GreaterOrEqual(t, m.MemUsagePercent.Value(), 0.0)
}

func TestSystemCollector_RunsAsComponent(t *testing.T) {
	ctx := context.Background()
	sys := system.New(ctx, system.Params{})
	defer func() {
		sys.Stop()
		_ = sys.Join(ctx)
	}()

	sc := NewSystemCollector("", 50*time.Millisecond, NewSystemMetrics(""), nil)
	h := system.Start(sys, sc)
	assert.Equal(t, system.PlacementDedicated, sc.Placement())

	h.Stop()
	jctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.Join(jctx))
}
