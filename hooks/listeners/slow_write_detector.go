package listeners

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/Ishiihara/chroma/hooks"
)

// SlowWriteDetectorListener warns about write tasks that took longer than
// a threshold, with the per-record cost so large batches are not flagged
// unfairly.
type SlowWriteDetectorListener struct {
	logger    *slog.Logger
	threshold time.Duration
}

func NewSlowWriteDetectorListener(logger *slog.Logger, threshold time.Duration) *SlowWriteDetectorListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if threshold <= 0 {
		threshold = 5 * time.Second
	}
	return &SlowWriteDetectorListener{
		logger:    logger.With("component", "SlowWriteDetectorListener"),
		threshold: threshold,
	}
}

func (l *SlowWriteDetectorListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PostWriteTaskPayload)
	if !ok || payload.Duration < l.threshold {
		return nil
	}
	perRecord := time.Duration(0)
	if payload.Records > 0 {
		perRecord = payload.Duration / time.Duration(payload.Records)
	}
	l.logger.Warn("Slow write task detected",
		"job_id", payload.JobID.String(),
		"task_id", payload.TaskID.String(),
		"collection_id", payload.CollectionID,
		"records", payload.Records,
		"duration", payload.Duration,
		"per_record", perRecord,
	)
	return nil
}

func (l *SlowWriteDetectorListener) Priority() int { return 200 }
func (l *SlowWriteDetectorListener) IsAsync() bool { return true }
