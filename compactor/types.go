package compactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/system"
	"github.com/google/uuid"
)

// DefaultScanBatchSize is the number of log records a scan reads when the
// task does not say otherwise.
const DefaultScanBatchSize = 1000

var (
	// ErrWorkerGone is the "no task available" outcome of a pull. It is not
	// fatal; callers poll around it.
	ErrWorkerGone        = errors.New("no task available")
	ErrSchedulerStopped  = errors.New("scheduler is stopped")
	ErrAlreadyScheduled  = errors.New("collection already scheduled")
	ErrInvalidTransition = errors.New("invalid compaction status transition")
	ErrUnknownCollection = errors.New("collection unknown to the catalog")
	ErrUnknownSegment    = errors.New("record segment unknown to the catalog")
	ErrRetriesExhausted  = errors.New("write retries exhausted")
)

// Task describes a compaction request for a range of a collection's log.
type Task struct {
	ID           uuid.UUID
	CollectionID string
	TenantID     string
	Offset       int64
	BatchSize    int
}

// NewTask creates a task with a fresh ID and the default batch size.
func NewTask(collectionID, tenantID string, offset int64) Task {
	return Task{
		ID:           uuid.New(),
		CollectionID: collectionID,
		TenantID:     tenantID,
		Offset:       offset,
		BatchSize:    DefaultScanBatchSize,
	}
}

func (t Task) batchSize() int {
	if t.BatchSize <= 0 {
		return DefaultScanBatchSize
	}
	return t.BatchSize
}

// TaskStatus is the outcome a task reports in its response.
type TaskStatus int

const (
	TaskRunning TaskStatus = iota
	TaskDone
	TaskTimeout
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskTimeout:
		return "timeout"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("task_status(%d)", int(s))
	}
}

// TaskResponse is the envelope every task delivers to its destination.
type TaskResponse[R any] struct {
	TaskID uuid.UUID
	JobID  uuid.UUID
	Status TaskStatus
	Result R
	Err    error
}

// WriteResult is the payload of a write task response. Running responses
// carry the handle of the invocation; Done responses carry the outcome.
type WriteResult struct {
	Handle  system.Cancellable
	Written int
	Elapsed time.Duration
}

type (
	ScanTaskResponse  = TaskResponse[[]*core.EmbeddingRecord]
	DedupTaskResponse = TaskResponse[[]*core.EmbeddingRecord]
	WriteTaskResponse = TaskResponse[WriteResult]
	FlushTaskResponse = TaskResponse[struct{}]
)

// TaskError ties a failure to the task and job it happened in.
type TaskError struct {
	TaskID uuid.UUID
	JobID  uuid.UUID
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s of job %s: %v", e.TaskID, e.JobID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
