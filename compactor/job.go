package compactor

import (
	"fmt"
	"time"

	"github.com/Ishiihara/chroma/system"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// CompactionStatus is the lifecycle of a job. Statuses only move forward.
type CompactionStatus int

const (
	StatusScanning CompactionStatus = iota
	StatusDeduping
	StatusWriting
	StatusFlushing
	StatusDone
	StatusFailed
)

func (s CompactionStatus) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusDeduping:
		return "deduping"
	case StatusWriting:
		return "writing"
	case StatusFlushing:
		return "flushing"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("compaction_status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s CompactionStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CompactionJob is the state of one compaction attempt. Only the manager
// mutates it, under its own lock.
type CompactionJob struct {
	ID                 uuid.UUID
	Task               Task
	SegmentID          string
	WriteTasks         map[uuid.UUID]*WriteTask
	TaskHandles        []system.Cancellable
	Status             CompactionStatus
	NumWriteTasks      int
	FinishedWriteTasks int
	Attempts           map[uuid.UUID]int
	CreatedAt          time.Time
	Err                error

	ScannedRecords int
	WrittenRecords int

	finished map[uuid.UUID]struct{}
	backoffs map[uuid.UUID]backoff.BackOff
	done     chan struct{}
}

// NewCompactionJob creates a job in the Scanning state.
func NewCompactionJob(task Task) *CompactionJob {
	return &CompactionJob{
		ID:         uuid.New(),
		Task:       task,
		WriteTasks: make(map[uuid.UUID]*WriteTask),
		Status:     StatusScanning,
		Attempts:   make(map[uuid.UUID]int),
		CreatedAt:  time.Now(),
		finished:   make(map[uuid.UUID]struct{}),
		backoffs:   make(map[uuid.UUID]backoff.BackOff),
		done:       make(chan struct{}),
	}
}

// Advance moves the job to next. Moving backwards, staying put or leaving a
// terminal status fails with ErrInvalidTransition.
func (j *CompactionJob) Advance(next CompactionStatus) error {
	if j.Status.Terminal() || (next != StatusFailed && next <= j.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	if next.Terminal() {
		close(j.done)
	}
	return nil
}

// Fail moves the job to Failed and records the reason.
func (j *CompactionJob) Fail(reason error) error {
	if err := j.Advance(StatusFailed); err != nil {
		return err
	}
	j.Err = reason
	return nil
}

// AddWriteTask registers a write task on the job.
func (j *CompactionJob) AddWriteTask(t *WriteTask) {
	if _, ok := j.WriteTasks[t.TaskID]; ok {
		return
	}
	j.WriteTasks[t.TaskID] = t
	j.NumWriteTasks++
}

// MarkWriteDone counts a finished write task. Duplicate completions of the
// same task are ignored, so FinishedWriteTasks never exceeds NumWriteTasks.
// It returns true exactly once, when the last task finishes and the job
// moves to Flushing.
func (j *CompactionJob) MarkWriteDone(taskID uuid.UUID) bool {
	if j.Status != StatusWriting {
		return false
	}
	if _, ok := j.WriteTasks[taskID]; !ok {
		return false
	}
	if _, ok := j.finished[taskID]; ok {
		return false
	}
	j.finished[taskID] = struct{}{}
	j.FinishedWriteTasks++
	if j.FinishedWriteTasks < j.NumWriteTasks {
		return false
	}
	return j.Advance(StatusFlushing) == nil
}

// WriteDone reports whether taskID already completed.
func (j *CompactionJob) WriteDone(taskID uuid.UUID) bool {
	_, ok := j.finished[taskID]
	return ok
}

// Done is closed once the job reaches a terminal status.
func (j *CompactionJob) Done() <-chan struct{} { return j.done }

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID                 uuid.UUID `json:"id"`
	CollectionID       string    `json:"collection_id"`
	SegmentID          string    `json:"segment_id,omitempty"`
	TenantID           string    `json:"tenant_id"`
	Offset             int64     `json:"offset"`
	Status             string    `json:"status"`
	NumWriteTasks      int       `json:"num_write_tasks"`
	FinishedWriteTasks int       `json:"finished_write_tasks"`
	Retries            int       `json:"retries"`
	CreatedAt          time.Time `json:"created_at"`
	Error              string    `json:"error,omitempty"`
}

// Info snapshots the job.
func (j *CompactionJob) Info() JobInfo {
	info := JobInfo{
		ID:                 j.ID,
		CollectionID:       j.Task.CollectionID,
		SegmentID:          j.SegmentID,
		TenantID:           j.Task.TenantID,
		Offset:             j.Task.Offset,
		Status:             j.Status.String(),
		NumWriteTasks:      j.NumWriteTasks,
		FinishedWriteTasks: j.FinishedWriteTasks,
		CreatedAt:          j.CreatedAt,
	}
	for _, n := range j.Attempts {
		info.Retries += n
	}
	if j.Err != nil {
		info.Error = j.Err.Error()
	}
	return info
}
