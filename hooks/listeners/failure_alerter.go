package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Ishiihara/chroma/hooks"
)

// FailureAlerterListener logs every failed job and escalates to an error
// once a collection has failed Threshold times in a row. A successful
// compaction of the collection resets its streak.
type FailureAlerterListener struct {
	logger    *slog.Logger
	threshold int

	mu      sync.Mutex
	streaks map[string]int
}

// NewFailureAlerterListener creates the listener. Register it for both
// OnJobFailed and PostCompaction.
func NewFailureAlerterListener(logger *slog.Logger, threshold int) *FailureAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if threshold < 1 {
		threshold = 3
	}
	return &FailureAlerterListener{
		logger:    logger.With("component", "FailureAlerterListener"),
		threshold: threshold,
		streaks:   make(map[string]int),
	}
}

func (l *FailureAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch payload := event.Payload().(type) {
	case hooks.JobFailedPayload:
		l.mu.Lock()
		l.streaks[payload.CollectionID]++
		n := l.streaks[payload.CollectionID]
		l.mu.Unlock()

		attrs := []any{"job_id", payload.JobID.String(), "collection_id", payload.CollectionID, "consecutive_failures", n}
		if payload.Reason != nil {
			attrs = append(attrs, "reason", payload.Reason.Error())
		}
		if n >= l.threshold {
			l.logger.Error("Collection keeps failing compaction", attrs...)
		} else {
			l.logger.Warn("Compaction job failed", attrs...)
		}
	case hooks.PostCompactionPayload:
		l.mu.Lock()
		delete(l.streaks, payload.CollectionID)
		l.mu.Unlock()
	default:
		if event.Type() == hooks.EventOnJobFailed {
			l.logger.Error("Received OnJobFailed event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		}
	}
	return nil
}

// Streak returns the current consecutive failure count for a collection.
func (l *FailureAlerterListener) Streak(collectionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streaks[collectionID]
}

func (l *FailureAlerterListener) Priority() int { return 100 }

// IsAsync is false so streaks are updated in event order.
func (l *FailureAlerterListener) IsAsync() bool { return false }
