package compactor

import (
	"context"
	"io"
	"log/slog"

	"github.com/Ishiihara/chroma/system"
	"golang.org/x/time/rate"
)

// WriterParams groups parameters for NewCompactionWriter.
type WriterParams struct {
	Responses      system.Receiver[WriteTaskResponse]
	FlushResponses system.Receiver[FlushTaskResponse]
	// RateLimit caps segment writes in records per second. Zero disables it.
	RateLimit float64
	Workers   int
	Logger    *slog.Logger
}

// CompactionWriter executes write and flush tasks off the manager's
// execution context and reports their outcome back to it.
type CompactionWriter struct {
	responses      system.Receiver[WriteTaskResponse]
	flushResponses system.Receiver[FlushTaskResponse]
	limiter        *rate.Limiter
	workers        int
	logger         *slog.Logger
}

func NewCompactionWriter(params WriterParams) *CompactionWriter {
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &CompactionWriter{
		responses:      params.Responses,
		flushResponses: params.FlushResponses,
		workers:        params.Workers,
		logger:         logger.With("component", "CompactionWriter"),
	}
	if params.RateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(params.RateLimit), max(1, int(params.RateLimit)))
	}
	return w
}

func (w *CompactionWriter) Name() string                 { return "CompactionWriter" }
func (w *CompactionWriter) QueueSize() int               { return 100 }
func (w *CompactionWriter) Placement() system.Placement { return system.PlacementMultiThread }
func (w *CompactionWriter) Workers() int                 { return w.workers }
func (w *CompactionWriter) OnStart(*system.Context)      {}

// HandleWriteTask invokes the task as a one-shot job. The Running
// response carrying the job handle is sent before the task starts, so it
// always precedes the task's own response.
func (w *CompactionWriter) HandleWriteTask(ctx context.Context, task *WriteTask, sc *system.Context) {
	gate := make(chan struct{})
	job := newAsyncTask[WriteResult, WriteTaskResponse]("WriteTask", task.withLimiter(w.limiter), w.responses, gate)
	handle := system.Invoke[struct{}](sc.System, job)
	Deliver(ctx, WriteTaskResponse{
		TaskID: task.TaskID,
		JobID:  task.JobID,
		Status: TaskRunning,
		Result: WriteResult{Handle: handle},
	}, w.responses, w.logger)
	close(gate)
}

// HandleFlushTask invokes the flush as a one-shot job.
func (w *CompactionWriter) HandleFlushTask(ctx context.Context, task *FlushTask, sc *system.Context) {
	job := newAsyncTask[struct{}, FlushTaskResponse]("FlushTask", task, w.flushResponses, nil)
	system.Invoke[struct{}](sc.System, job)
}

var _ system.Workers = (*CompactionWriter)(nil)
