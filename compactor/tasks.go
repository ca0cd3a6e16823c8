package compactor

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/logstore"
	"github.com/Ishiihara/chroma/segment"
	"github.com/Ishiihara/chroma/system"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ScanTask reads one batch of a collection's log.
type ScanTask struct {
	system.Base
	TaskID uuid.UUID
	JobID  uuid.UUID
	Task   Task
	log    logstore.Log
	logger *slog.Logger
}

func NewScanTask(jobID uuid.UUID, task Task, log logstore.Log, logger *slog.Logger) *ScanTask {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ScanTask{TaskID: uuid.New(), JobID: jobID, Task: task, log: log, logger: logger}
}

func (t *ScanTask) Name() string { return "ScanTask" }

// Run never fails: a read error yields an empty batch.
func (t *ScanTask) Run(ctx context.Context) ([]*core.EmbeddingRecord, error) {
	records, err := t.log.Read(ctx, t.Task.CollectionID, t.Task.Offset, t.Task.batchSize())
	if err != nil {
		t.logger.Warn("Log read failed, scanning nothing.",
			"job_id", t.JobID.String(), "collection_id", t.Task.CollectionID, "offset", t.Task.Offset, "error", err)
		return nil, nil
	}
	return records, nil
}

func (t *ScanTask) Done(records []*core.EmbeddingRecord, _ error) ScanTaskResponse {
	return ScanTaskResponse{TaskID: t.TaskID, JobID: t.JobID, Status: TaskDone, Result: records}
}

func (t *ScanTask) RunTask(ctx context.Context, _ *system.Context) ([]*core.EmbeddingRecord, error) {
	return t.Run(ctx)
}

// DedupTask collapses records by ID, keeping the last occurrence.
type DedupTask struct {
	system.Base
	TaskID  uuid.UUID
	JobID   uuid.UUID
	Task    Task
	Records []*core.EmbeddingRecord
}

func NewDedupTask(jobID uuid.UUID, task Task, records []*core.EmbeddingRecord) *DedupTask {
	return &DedupTask{TaskID: uuid.New(), JobID: jobID, Task: task, Records: records}
}

func (t *DedupTask) Name() string { return "DedupTask" }

// Run returns the surviving records. Their order is unspecified.
func (t *DedupTask) Run(ctx context.Context) ([]*core.EmbeddingRecord, error) {
	latest := make(map[string]*core.EmbeddingRecord, len(t.Records))
	for _, rec := range t.Records {
		latest[rec.ID] = rec
	}
	out := make([]*core.EmbeddingRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	return out, ctx.Err()
}

func (t *DedupTask) Done(records []*core.EmbeddingRecord, err error) DedupTaskResponse {
	resp := DedupTaskResponse{TaskID: t.TaskID, JobID: t.JobID, Status: TaskDone, Result: records}
	if err != nil {
		resp.Status, resp.Err = TaskFailed, err
	}
	return resp
}

func (t *DedupTask) RunTask(ctx context.Context, _ *system.Context) ([]*core.EmbeddingRecord, error) {
	return t.Run(ctx)
}

// WriteTask applies a chunk of records to the segment manager. Retries
// re-dispatch the same WriteTask value, so it is never mutated after
// creation.
type WriteTask struct {
	TaskID   uuid.UUID
	JobID    uuid.UUID
	Task     Task
	Records  []*core.EmbeddingRecord
	segments segment.Manager
	limiter  *rate.Limiter
}

func NewWriteTask(jobID uuid.UUID, task Task, records []*core.EmbeddingRecord, segments segment.Manager) *WriteTask {
	return &WriteTask{TaskID: uuid.New(), JobID: jobID, Task: task, Records: records, segments: segments}
}

func (t *WriteTask) Name() string                 { return "WriteTask" }
func (t *WriteTask) QueueSize() int               { return 100 }
func (t *WriteTask) Placement() system.Placement { return system.PlacementMultiThread }
func (t *WriteTask) OnStart(*system.Context)      {}

// withLimiter returns a copy of t that throttles record writes.
func (t *WriteTask) withLimiter(l *rate.Limiter) *WriteTask {
	if l == nil {
		return t
	}
	c := *t
	c.limiter = l
	return &c
}

// Run writes the records sequentially and stops at the first error.
func (t *WriteTask) Run(ctx context.Context) (WriteResult, error) {
	start := time.Now()
	var res WriteResult
	for _, rec := range t.Records {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				res.Elapsed = time.Since(start)
				return res, err
			}
		}
		if err := t.segments.WriteRecord(ctx, rec); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		res.Written++
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (t *WriteTask) Done(res WriteResult, err error) WriteTaskResponse {
	resp := WriteTaskResponse{TaskID: t.TaskID, JobID: t.JobID, Status: TaskDone, Result: res}
	if err != nil {
		resp.Status = TaskFailed
		resp.Err = &TaskError{TaskID: t.TaskID, JobID: t.JobID, Err: err}
	}
	return resp
}

func (t *WriteTask) RunTask(ctx context.Context, _ *system.Context) (WriteResult, error) {
	return t.Run(ctx)
}

// FlushTask persists a job's buffered segment state.
type FlushTask struct {
	TaskID       uuid.UUID
	JobID        uuid.UUID
	CollectionID string
	segments     segment.Manager
}

func NewFlushTask(jobID uuid.UUID, collectionID string, segments segment.Manager) *FlushTask {
	return &FlushTask{TaskID: uuid.New(), JobID: jobID, CollectionID: collectionID, segments: segments}
}

func (t *FlushTask) Name() string { return "FlushTask" }

func (t *FlushTask) Run(ctx context.Context) (struct{}, error) {
	return struct{}{}, t.segments.Flush(ctx, t.CollectionID)
}

func (t *FlushTask) Done(_ struct{}, err error) FlushTaskResponse {
	resp := FlushTaskResponse{TaskID: t.TaskID, JobID: t.JobID, Status: TaskDone}
	if err != nil {
		resp.Status = TaskFailed
		resp.Err = &TaskError{TaskID: t.TaskID, JobID: t.JobID, Err: err}
	}
	return resp
}

// PullTask takes the next task off the scheduler.
type PullTask struct {
	system.Base
	scheduler *Scheduler
}

func NewPullTask(s *Scheduler) *PullTask { return &PullTask{scheduler: s} }

func (t *PullTask) Name() string { return "PullTask" }

// RunTask returns ErrWorkerGone when the scheduler is empty.
func (t *PullTask) RunTask(ctx context.Context, _ *system.Context) (Task, error) {
	task, ok := t.scheduler.TakeTask()
	if !ok {
		return Task{}, ErrWorkerGone
	}
	return task, nil
}

var (
	_ system.Invocable[[]*core.EmbeddingRecord] = (*ScanTask)(nil)
	_ system.Invocable[[]*core.EmbeddingRecord] = (*DedupTask)(nil)
	_ system.Invocable[WriteResult]             = (*WriteTask)(nil)
	_ system.Invocable[Task]                    = (*PullTask)(nil)

	_ Execution[[]*core.EmbeddingRecord, ScanTaskResponse] = (*ScanTask)(nil)
	_ Execution[WriteResult, WriteTaskResponse]            = (*WriteTask)(nil)
	_ Execution[struct{}, FlushTaskResponse]               = (*FlushTask)(nil)
)
