package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/Ishiihara/chroma/hooks"
)

var (
	// Use sync.Once to ensure these expvars are only ever created once,
	// making NewDedupRatioListener idempotent.
	dedupMetricsOnce    sync.Once
	totalRecordsScanned *expvar.Int
	totalRecordsWritten *expvar.Int
	compactionEvents    *expvar.Int
)

func initDedupMetrics() {
	dedupMetricsOnce.Do(func() {
		totalRecordsScanned = expvar.NewInt("compaction_records_scanned_total")
		totalRecordsWritten = expvar.NewInt("compaction_records_written_total")
		compactionEvents = expvar.NewInt("compaction_events_total")
		expvar.Publish("compaction_dedup_ratio", expvar.Func(func() interface{} {
			scanned := totalRecordsScanned.Value()
			if scanned == 0 {
				return 0.0
			}
			return float64(totalRecordsWritten.Value()) / float64(scanned)
		}))
	})
}

// DedupRatioListener tracks how many scanned records survive deduplication
// across all completed jobs.
type DedupRatioListener struct {
	logger *slog.Logger

	totalRecordsScanned *expvar.Int
	totalRecordsWritten *expvar.Int
	compactionEvents    *expvar.Int
}

func NewDedupRatioListener(logger *slog.Logger) *DedupRatioListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initDedupMetrics()
	return &DedupRatioListener{
		logger:              logger.With("component", "DedupRatioListener"),
		totalRecordsScanned: totalRecordsScanned,
		totalRecordsWritten: totalRecordsWritten,
		compactionEvents:    compactionEvents,
	}
}

// OnEvent is called when a PostCompaction event is triggered.
func (l *DedupRatioListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PostCompactionPayload)
	if !ok {
		return nil
	}
	l.totalRecordsScanned.Add(int64(payload.ScannedRecords))
	l.totalRecordsWritten.Add(int64(payload.WrittenRecords))
	l.compactionEvents.Add(1)

	l.logger.Info("Compaction event processed",
		"job_id", payload.JobID.String(),
		"collection_id", payload.CollectionID,
		"records_scanned", payload.ScannedRecords,
		"records_written", payload.WrittenRecords,
	)
	return nil
}

func (l *DedupRatioListener) Priority() int { return 100 }
func (l *DedupRatioListener) IsAsync() bool { return true }
