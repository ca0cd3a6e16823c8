package logstore

import (
	"context"
	"io"
	"log/slog"

	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/system"
)

// Batch is a group of records for one tenant submitted for ingestion.
type Batch struct {
	TenantID string
	Records  []*core.EmbeddingRecord
	// Result, when set, receives the number of records appended. It must
	// have room for one value.
	Result chan<- int
}

// Ingestor appends batches to the log on a dedicated thread so that bursts
// of writes do not compete with the shared pool.
type Ingestor struct {
	system.Base
	log       *InMemoryLog
	queueSize int
	logger    *slog.Logger
}

func NewIngestor(log *InMemoryLog, queueSize int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if queueSize < 1 {
		queueSize = 100
	}
	return &Ingestor{log: log, queueSize: queueSize, logger: logger.With("component", "Ingestor")}
}

func (i *Ingestor) QueueSize() int              { return i.queueSize }
func (i *Ingestor) Placement() system.Placement { return system.PlacementDedicated }

// HandleBatch appends the batch. Invalid records are skipped and logged.
func (i *Ingestor) HandleBatch(ctx context.Context, b Batch, _ *system.Context) {
	n := 0
	for _, r := range b.Records {
		if _, err := i.log.Push(ctx, b.TenantID, r); err != nil {
			i.logger.Warn("Dropping record from batch.", "error", err)
			continue
		}
		n++
	}
	if b.Result != nil {
		b.Result <- n
	}
}

// Receiver returns a typed destination for batches.
func (i *Ingestor) Receiver(h *system.ComponentHandle[*Ingestor]) system.Receiver[Batch] {
	return system.AsReceiver(h.Sender(), (*Ingestor).HandleBatch)
}

// Ingest sends a batch to dest and waits for the appended count.
func Ingest(ctx context.Context, dest system.Receiver[Batch], tenantID string, records []*core.EmbeddingRecord) (int, error) {
	result := make(chan int, 1)
	if err := dest.Send(ctx, Batch{TenantID: tenantID, Records: records, Result: result}); err != nil {
		return 0, err
	}
	select {
	case n := <-result:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
