package segment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Ishiihara/chroma/system"
)

// PendingManager is a Manager that can list collections with unflushed records.
type PendingManager interface {
	Manager
	PendingCollections() []string
}

// Flusher is a background component that periodically flushes every
// collection with buffered records, so writes outside compaction are not
// held in memory indefinitely.
type Flusher struct {
	system.Base
	manager  PendingManager
	interval time.Duration
	logger   *slog.Logger
}

// NewFlusher creates a Flusher. Start it with system.Start.
func NewFlusher(manager PendingManager, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Flusher{manager: manager, interval: interval, logger: logger.With("component", "SegmentFlusher")}
}

func (f *Flusher) Run(ctx context.Context, _ *system.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.FlushAll(ctx); err != nil {
				f.logger.Warn("Periodic flush incomplete.", "error", err)
			}
		}
	}
}

// FlushAll flushes each pending collection and joins the failures.
func (f *Flusher) FlushAll(ctx context.Context) error {
	var errs []error
	for _, id := range f.manager.PendingCollections() {
		if err := f.manager.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
