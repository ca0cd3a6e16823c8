package compactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/execution"
	"github.com/Ishiihara/chroma/hooks"
	"github.com/Ishiihara/chroma/logstore"
	"github.com/Ishiihara/chroma/segment"
	"github.com/Ishiihara/chroma/system"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config tunes the compaction pipeline.
type Config struct {
	// NumWriteTasks is the number of chunks the deduplicated records are
	// split into when PartitionSize is zero.
	NumWriteTasks int
	// PartitionSize, when positive, splits records with the key-aware
	// partitioner instead of plain chunking.
	PartitionSize   int
	MaxJobsInFlight int
	// MaxWriteRetries caps re-dispatches per write task. Nil selects the
	// default, zero disables retries and a negative value means unbounded.
	MaxWriteRetries *int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	PollInterval    time.Duration
	ScanBatchSize   int
}

// DefaultMaxWriteRetries is used when Config.MaxWriteRetries is nil.
const DefaultMaxWriteRetries = 5

// Retries returns a MaxWriteRetries value of n.
func Retries(n int) *int { return &n }

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		NumWriteTasks:   1,
		MaxJobsInFlight: 1,
		MaxWriteRetries: Retries(DefaultMaxWriteRetries),
		BackoffInitial:  100 * time.Millisecond,
		BackoffMax:      10 * time.Second,
		PollInterval:    100 * time.Millisecond,
		ScanBatchSize:   DefaultScanBatchSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NumWriteTasks < 1 {
		c.NumWriteTasks = d.NumWriteTasks
	}
	if c.MaxJobsInFlight < 1 {
		c.MaxJobsInFlight = d.MaxJobsInFlight
	}
	if c.MaxWriteRetries == nil {
		c.MaxWriteRetries = d.MaxWriteRetries
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ScanBatchSize <= 0 {
		c.ScanBatchSize = d.ScanBatchSize
	}
	return c
}

// MetadataResolver looks up catalog entries. cache.MetadataCache
// satisfies it.
type MetadataResolver interface {
	GetCollection(ctx context.Context, id string) (core.Collection, bool)
	GetSegment(ctx context.Context, id string) (core.Segment, bool)
}

// FailedJob is an entry of the dead-letter list.
type FailedJob struct {
	JobInfo
	FailedAt time.Time `json:"failed_at"`
}

// ManagerParams groups parameters for NewCompactionManager.
type ManagerParams struct {
	Log       logstore.Log
	Scheduler *Scheduler
	Segments  segment.Manager
	// Writer and Flusher may be left nil and supplied later with Connect.
	Writer   system.Receiver[*WriteTask]
	Flusher  system.Receiver[*FlushTask]
	Hooks    hooks.HookManager
	Metadata MetadataResolver
	Config   Config
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *Metrics
}

// CompactionManager drives jobs through scan, dedup, partition, write and
// flush. It pulls tasks from the scheduler in its run loop and reacts to
// task responses delivered to its mailbox.
type CompactionManager struct {
	log       logstore.Log
	scheduler *Scheduler
	segments  segment.Manager
	hooks     hooks.HookManager
	metadata  MetadataResolver
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	partition execution.PartitionOperator

	connectOnce sync.Once
	connected   chan struct{}
	writer      system.Receiver[*WriteTask]
	flusher     system.Receiver[*FlushTask]

	sys *system.System

	mu         sync.Mutex
	jobs       map[uuid.UUID]*CompactionJob
	// active holds the live job of each collection. uuid.Nil marks a
	// collection whose task is still being admitted.
	active     map[string]uuid.UUID
	deadLetter []FailedJob
}

func NewCompactionManager(params ManagerParams) *CompactionManager {
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewMetrics("")
	}
	hm := params.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	m := &CompactionManager{
		log:       params.Log,
		scheduler: params.Scheduler,
		segments:  params.Segments,
		hooks:     hm,
		metadata:  params.Metadata,
		cfg:       params.Config.withDefaults(),
		logger:    logger.With("component", "CompactionManager"),
		tracer:    tracer,
		metrics:   metrics,
		connected: make(chan struct{}),
		jobs:      make(map[uuid.UUID]*CompactionJob),
		active:    make(map[string]uuid.UUID),
	}
	if params.Writer != nil && params.Flusher != nil {
		m.Connect(params.Writer, params.Flusher)
	}
	return m
}

// Connect sets the destinations of write and flush tasks. Work that needs
// them waits until Connect has been called; later calls are ignored.
func (m *CompactionManager) Connect(writer system.Receiver[*WriteTask], flusher system.Receiver[*FlushTask]) {
	m.connectOnce.Do(func() {
		m.writer, m.flusher = writer, flusher
		close(m.connected)
	})
}

func (m *CompactionManager) waitConnected(ctx context.Context) error {
	select {
	case <-m.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *CompactionManager) Name() string                 { return "CompactionManager" }
func (m *CompactionManager) QueueSize() int               { return 1000 }
func (m *CompactionManager) Placement() system.Placement { return system.PlacementGlobal }

func (m *CompactionManager) OnStart(sc *system.Context) {
	m.sys = sc.System
}

// Run pulls tasks from the scheduler and runs up to MaxJobsInFlight jobs
// at a time. An empty scheduler is polled again after PollInterval.
func (m *CompactionManager) Run(ctx context.Context, sc *system.Context) {
	if err := m.waitConnected(ctx); err != nil {
		return
	}
	sem := semaphore.NewWeighted(int64(m.cfg.MaxJobsInFlight))
	g, gctx := errgroup.WithContext(ctx)
	defer func() { _ = g.Wait() }()

	m.logger.Info("Compaction loop started.", "max_jobs_in_flight", m.cfg.MaxJobsInFlight)
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		task, err := system.Invoke[Task](sc.System, NewPullTask(m.scheduler)).Await(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrWorkerGone) {
				m.metrics.EmptyPolls.Add(1)
			} else {
				m.logger.Warn("Pulling a task failed.", "error", err)
			}
			select {
			case <-time.After(m.cfg.PollInterval):
				continue
			case <-ctx.Done():
				return
			}
		}
		g.Go(func() error {
			defer sem.Release(1)
			m.runJob(gctx, task)
			return nil
		})
	}
}

// runJob compacts one task and waits for the job to reach a terminal state.
func (m *CompactionManager) runJob(ctx context.Context, task Task) {
	job, writeTasks, err := m.HandleNewTask(ctx, task)
	if err != nil {
		return
	}
	m.dispatchWriteTasks(ctx, job, writeTasks)
	select {
	case <-job.Done():
	case <-ctx.Done():
	}
}

// Schedule queues task behind the scheduler, which keeps at most one task
// per collection queued or in flight.
func (m *CompactionManager) Schedule(task Task) error {
	if err := m.scheduler.Schedule(task); err != nil {
		return fmt.Errorf("schedule %s: %w", task.CollectionID, err)
	}
	return nil
}

// HandleTask queues a task pushed into the mailbox. The run loop picks it up.
func (m *CompactionManager) HandleTask(_ context.Context, task Task, _ *system.Context) {
	if err := m.Schedule(task); err != nil {
		m.logger.Info("Dropping pushed task.", "collection_id", task.CollectionID, "error", err)
	}
}

// HandleNewTask creates a job for task, scans and deduplicates its records
// and splits them into write tasks. The returned tasks still have to be
// dispatched. A job without records goes straight to Flushing. A
// collection with a live job is rejected with ErrAlreadyScheduled and
// keeps its scheduler mark.
func (m *CompactionManager) HandleNewTask(ctx context.Context, task Task) (*CompactionJob, []*WriteTask, error) {
	ctx, span := m.tracer.Start(ctx, "CompactionManager.handleNewTask")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection_id", task.CollectionID),
		attribute.Int64("offset", task.Offset),
	)
	if task.BatchSize <= 0 {
		task.BatchSize = m.cfg.ScanBatchSize
	}

	m.mu.Lock()
	if _, busy := m.active[task.CollectionID]; busy {
		m.mu.Unlock()
		m.logger.Warn("Collection already has a live job.", "collection_id", task.CollectionID)
		span.SetStatus(codes.Error, "collection busy")
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyScheduled, task.CollectionID)
	}
	m.active[task.CollectionID] = uuid.Nil
	m.mu.Unlock()

	segmentID, err := m.admit(ctx, task)
	if err != nil {
		m.mu.Lock()
		delete(m.active, task.CollectionID)
		m.mu.Unlock()
		m.scheduler.Complete(task.CollectionID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "task rejected")
		return nil, nil, err
	}

	job := NewCompactionJob(task)
	job.SegmentID = segmentID
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.active[task.CollectionID] = job.ID
	m.mu.Unlock()
	m.metrics.JobsStarted.Add(1)
	span.SetAttributes(attribute.String("job_id", job.ID.String()))
	logger := m.logger.With("job_id", job.ID.String(), "collection_id", task.CollectionID)
	logger.Debug("Compaction job created.", "offset", task.Offset)

	records, err := m.scan(ctx, job)
	if err != nil {
		m.failJob(ctx, job.ID, err)
		return nil, nil, err
	}
	if err := m.advance(job, StatusDeduping); err != nil {
		m.failJob(ctx, job.ID, err)
		return nil, nil, err
	}
	records, err = m.dedup(ctx, job, records)
	if err != nil {
		m.failJob(ctx, job.ID, err)
		return nil, nil, err
	}

	chunks, err := m.partitionRecords(ctx, records)
	if err != nil {
		m.failJob(ctx, job.ID, err)
		return nil, nil, err
	}

	m.mu.Lock()
	writeTasks := make([]*WriteTask, 0, len(chunks))
	for _, chunk := range chunks {
		wt := NewWriteTask(job.ID, task, chunk, m.segments)
		job.AddWriteTask(wt)
		writeTasks = append(writeTasks, wt)
	}
	next := StatusWriting
	if len(writeTasks) == 0 {
		next = StatusFlushing
	}
	err = job.Advance(next)
	m.mu.Unlock()
	if err != nil {
		m.failJob(ctx, job.ID, err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("write_tasks", len(writeTasks)))
	logger.Debug("Compaction job partitioned.", "records", len(records), "write_tasks", len(writeTasks))

	if next == StatusFlushing {
		m.dispatchFlush(ctx, job)
	}
	return job, writeTasks, nil
}

// admit checks the catalog and the pre-compaction hooks. It returns the id
// of the record segment the job flushes into.
func (m *CompactionManager) admit(ctx context.Context, task Task) (string, error) {
	segmentID := core.RecordSegmentID(task.CollectionID)
	if m.metadata != nil {
		if _, ok := m.metadata.GetCollection(ctx, task.CollectionID); !ok {
			m.logger.Warn("Skipping compaction of unknown collection.", "collection_id", task.CollectionID)
			return "", fmt.Errorf("%w: %s", ErrUnknownCollection, task.CollectionID)
		}
		seg, ok := m.metadata.GetSegment(ctx, segmentID)
		if !ok || seg.CollectionID != task.CollectionID {
			m.logger.Warn("Skipping compaction without a record segment.", "collection_id", task.CollectionID, "segment_id", segmentID)
			return "", fmt.Errorf("%w: %s", ErrUnknownSegment, segmentID)
		}
	}
	event := hooks.NewPreCompactionEvent(hooks.PreCompactionPayload{
		JobID:        task.ID,
		CollectionID: task.CollectionID,
		TenantID:     task.TenantID,
		Offset:       task.Offset,
	})
	if err := m.hooks.Trigger(ctx, event); err != nil {
		m.metrics.JobsVetoed.Add(1)
		m.logger.Info("Compaction vetoed by pre-hook.", "collection_id", task.CollectionID, "reason", err)
		return "", err
	}
	return segmentID, nil
}

func (m *CompactionManager) scan(ctx context.Context, job *CompactionJob) ([]*core.EmbeddingRecord, error) {
	ctx, span := m.tracer.Start(ctx, "CompactionManager.scan")
	defer span.End()
	records, err := system.Invoke[[]*core.EmbeddingRecord](m.sys, NewScanTask(job.ID, job.Task, m.log, m.logger)).Await(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	m.mu.Lock()
	job.ScannedRecords = len(records)
	m.mu.Unlock()
	m.hooks.Trigger(ctx, hooks.NewPostScanEvent(hooks.PostScanPayload{
		JobID: job.ID, CollectionID: job.Task.CollectionID, Records: len(records),
	}))
	return records, nil
}

func (m *CompactionManager) dedup(ctx context.Context, job *CompactionJob, records []*core.EmbeddingRecord) ([]*core.EmbeddingRecord, error) {
	ctx, span := m.tracer.Start(ctx, "CompactionManager.dedup")
	defer span.End()
	out, err := system.Invoke[[]*core.EmbeddingRecord](m.sys, NewDedupTask(job.ID, job.Task, records)).Await(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dedup failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("before", len(records)), attribute.Int("after", len(out)))
	m.hooks.Trigger(ctx, hooks.NewPostDedupEvent(hooks.PostDedupPayload{
		JobID: job.ID, CollectionID: job.Task.CollectionID, Before: len(records), After: len(out),
	}))
	return out, nil
}

func (m *CompactionManager) partitionRecords(ctx context.Context, records []*core.EmbeddingRecord) ([][]*core.EmbeddingRecord, error) {
	if m.cfg.PartitionSize <= 0 {
		return PartitionRecords(records, m.cfg.NumWriteTasks), nil
	}
	out, err := m.partition.Run(ctx, execution.PartitionInput{
		Records:          execution.NewDataChunk(records),
		MaxPartitionSize: m.cfg.PartitionSize,
	})
	if err != nil {
		return nil, err
	}
	chunks := make([][]*core.EmbeddingRecord, 0, len(out.Partitions))
	for _, p := range out.Partitions {
		chunks = append(chunks, p.Records())
	}
	return chunks, nil
}

// PartitionRecords splits records into at most n contiguous chunks of
// ceil(len/n) records, keeping input order. Empty input yields no chunks.
func PartitionRecords(records []*core.EmbeddingRecord, n int) [][]*core.EmbeddingRecord {
	if len(records) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	size := (len(records) + n - 1) / n
	chunks := make([][]*core.EmbeddingRecord, 0, n)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func (m *CompactionManager) advance(job *CompactionJob, next CompactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return job.Advance(next)
}

func (m *CompactionManager) dispatchWriteTasks(ctx context.Context, job *CompactionJob, writeTasks []*WriteTask) {
	ctx, span := m.tracer.Start(ctx, "CompactionManager.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", job.ID.String()), attribute.Int("write_tasks", len(writeTasks)))
	for _, wt := range writeTasks {
		if err := m.dispatchWriteTask(ctx, wt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			m.failJob(ctx, job.ID, err)
			return
		}
	}
}

func (m *CompactionManager) dispatchWriteTask(ctx context.Context, wt *WriteTask) error {
	if err := m.waitConnected(ctx); err != nil {
		return err
	}
	if err := m.writer.Send(ctx, wt); err != nil {
		m.logger.Error("Failed to dispatch write task.", "job_id", wt.JobID.String(), "task_id", wt.TaskID.String(), "error", err)
		return fmt.Errorf("dispatch write task %s: %w", wt.TaskID, err)
	}
	return nil
}

func (m *CompactionManager) dispatchFlush(ctx context.Context, job *CompactionJob) {
	ft := NewFlushTask(job.ID, job.Task.CollectionID, m.segments)
	m.logger.Debug("Flushing compacted records.", "job_id", job.ID.String(), "segment_id", job.SegmentID)
	err := m.waitConnected(ctx)
	if err == nil {
		err = m.flusher.Send(ctx, ft)
	}
	if err != nil {
		m.logger.Error("Failed to dispatch flush task.", "job_id", job.ID.String(), "error", err)
		m.failJob(ctx, job.ID, fmt.Errorf("dispatch flush task: %w", err))
	}
}

// HandleWriteTaskResponse reacts to the outcome of a write task.
func (m *CompactionManager) HandleWriteTaskResponse(ctx context.Context, resp WriteTaskResponse, _ *system.Context) {
	m.mu.Lock()
	job, ok := m.jobs[resp.JobID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Dropping write task response for unknown job.", "job_id", resp.JobID.String(), "task_id", resp.TaskID.String(), "status", resp.Status.String())
		return
	}

	switch resp.Status {
	case TaskRunning:
		if resp.Result.Handle != nil {
			job.TaskHandles = append(job.TaskHandles, resp.Result.Handle)
		}
		m.mu.Unlock()

	case TaskDone:
		_, known := job.WriteTasks[resp.TaskID]
		fresh := known && job.Status == StatusWriting && !job.WriteDone(resp.TaskID)
		ready := job.MarkWriteDone(resp.TaskID)
		if fresh {
			job.WrittenRecords += resp.Result.Written
		}
		m.mu.Unlock()
		if !fresh {
			m.logger.Debug("Ignoring duplicate write task completion.", "job_id", resp.JobID.String(), "task_id", resp.TaskID.String())
			return
		}
		m.metrics.RecordsWritten.Add(int64(resp.Result.Written))
		m.metrics.ObserveWrite(resp.Result.Elapsed)
		m.hooks.Trigger(ctx, hooks.NewPostWriteTaskEvent(hooks.PostWriteTaskPayload{
			JobID: resp.JobID, TaskID: resp.TaskID, CollectionID: job.Task.CollectionID,
			Records: resp.Result.Written, Status: resp.Status.String(), Duration: resp.Result.Elapsed,
		}))
		if ready {
			m.dispatchFlush(ctx, job)
		}

	case TaskFailed, TaskTimeout:
		wt, known := job.WriteTasks[resp.TaskID]
		if !known || job.WriteDone(resp.TaskID) || job.Status != StatusWriting {
			m.mu.Unlock()
			m.logger.Debug("Ignoring stale write task failure.", "job_id", resp.JobID.String(), "task_id", resp.TaskID.String())
			return
		}
		delay, retry := m.nextRetryLocked(job, resp.TaskID)
		attempt := job.Attempts[resp.TaskID]
		m.mu.Unlock()

		cause := resp.Status.String()
		if resp.Err != nil {
			cause = resp.Err.Error()
		}
		if resp.Status == TaskFailed {
			m.hooks.Trigger(ctx, hooks.NewPostWriteTaskEvent(hooks.PostWriteTaskPayload{
				JobID: resp.JobID, TaskID: resp.TaskID, CollectionID: job.Task.CollectionID,
				Records: resp.Result.Written, Status: resp.Status.String(), Duration: resp.Result.Elapsed, Error: resp.Err,
			}))
		}
		if !retry {
			m.failJob(ctx, job.ID, &TaskError{TaskID: resp.TaskID, JobID: resp.JobID, Err: fmt.Errorf("%w: %s", ErrRetriesExhausted, cause)})
			return
		}
		m.metrics.WriteRetries.Add(1)
		m.logger.Warn("Retrying write task.", "job_id", resp.JobID.String(), "task_id", resp.TaskID.String(), "attempt", attempt, "delay", delay, "cause", cause)
		m.hooks.Trigger(ctx, hooks.NewOnWriteRetryEvent(hooks.WriteRetryPayload{
			JobID: resp.JobID, TaskID: resp.TaskID, Attempt: attempt, Delay: delay, Cause: cause,
		}))
		m.redispatch(ctx, wt, delay)

	default:
		m.mu.Unlock()
	}
}

// nextRetryLocked returns the delay before the next attempt of taskID and
// whether another attempt is allowed.
func (m *CompactionManager) nextRetryLocked(job *CompactionJob, taskID uuid.UUID) (time.Duration, bool) {
	b, ok := job.backoffs[taskID]
	if !ok {
		b = m.newBackoff()
		job.backoffs[taskID] = b
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	job.Attempts[taskID]++
	return delay, true
}

func (m *CompactionManager) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.BackoffInitial
	eb.MaxInterval = m.cfg.BackoffMax
	eb.MaxElapsedTime = 0
	if *m.cfg.MaxWriteRetries < 0 {
		return eb
	}
	return backoff.WithMaxRetries(eb, uint64(*m.cfg.MaxWriteRetries))
}

// redispatch sends wt again after delay without blocking the mailbox. The
// send is skipped if the task completed or its job left Writing meanwhile.
func (m *CompactionManager) redispatch(ctx context.Context, wt *WriteTask, delay time.Duration) {
	ctx = context.WithoutCancel(ctx)
	if m.sys != nil {
		ctx = m.sys.Context()
	}
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		job, ok := m.jobs[wt.JobID]
		pending := ok && job.Status == StatusWriting && !job.WriteDone(wt.TaskID)
		m.mu.Unlock()
		if !pending {
			m.metrics.RetriesSkipped.Add(1)
			m.logger.Debug("Skipping retry of settled write task.", "job_id", wt.JobID.String(), "task_id", wt.TaskID.String())
			return
		}
		if err := m.dispatchWriteTask(ctx, wt); err != nil {
			m.failJob(ctx, wt.JobID, err)
		}
	})
}

// HandleFlushTaskResponse completes or fails the job that was flushed.
func (m *CompactionManager) HandleFlushTaskResponse(ctx context.Context, resp FlushTaskResponse, _ *system.Context) {
	m.mu.Lock()
	job, ok := m.jobs[resp.JobID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Dropping flush task response for unknown job.", "job_id", resp.JobID.String(), "status", resp.Status.String())
		return
	}
	m.mu.Unlock()

	m.hooks.Trigger(ctx, hooks.NewPostFlushEvent(hooks.PostFlushPayload{
		JobID: job.ID, CollectionID: job.Task.CollectionID, Error: resp.Err,
	}))
	if resp.Status != TaskDone {
		err := resp.Err
		if err == nil {
			err = fmt.Errorf("flush %s", resp.Status)
		}
		m.failJob(ctx, job.ID, err)
		return
	}

	m.mu.Lock()
	if err := job.Advance(StatusDone); err != nil {
		m.mu.Unlock()
		m.logger.Warn("Ignoring flush response.", "job_id", job.ID.String(), "error", err)
		return
	}
	m.releaseLocked(job)
	payload := hooks.PostCompactionPayload{
		JobID:          job.ID,
		CollectionID:   job.Task.CollectionID,
		ScannedRecords: job.ScannedRecords,
		WrittenRecords: job.WrittenRecords,
		WriteTasks:     job.NumWriteTasks,
		Duration:       time.Since(job.CreatedAt),
	}
	m.mu.Unlock()

	m.metrics.JobsCompleted.Add(1)
	m.logger.Info("Compaction job done.", "job_id", job.ID.String(), "collection_id", job.Task.CollectionID,
		"records_written", payload.WrittenRecords, "duration", payload.Duration)
	m.hooks.Trigger(ctx, hooks.NewPostCompactionEvent(payload))
	m.scheduler.Complete(job.Task.CollectionID)
}

// releaseLocked forgets a job that reached a terminal state.
func (m *CompactionManager) releaseLocked(job *CompactionJob) {
	delete(m.jobs, job.ID)
	if m.active[job.Task.CollectionID] == job.ID {
		delete(m.active, job.Task.CollectionID)
	}
}

// failJob moves the job to Failed, cancels its outstanding work and adds
// it to the dead-letter list.
func (m *CompactionManager) failJob(ctx context.Context, jobID uuid.UUID, reason error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Fail(reason) != nil {
		m.mu.Unlock()
		return
	}
	m.releaseLocked(job)
	handles := job.TaskHandles
	job.TaskHandles = nil
	m.deadLetter = append(m.deadLetter, FailedJob{JobInfo: job.Info(), FailedAt: time.Now()})
	m.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	m.metrics.JobsFailed.Add(1)
	m.logger.Error("Compaction job failed.", "job_id", jobID.String(), "collection_id", job.Task.CollectionID, "error", reason)
	m.hooks.Trigger(ctx, hooks.NewOnJobFailedEvent(hooks.JobFailedPayload{
		JobID: jobID, CollectionID: job.Task.CollectionID, Reason: reason,
	}))
	m.scheduler.Complete(job.Task.CollectionID)
}

// TimeoutReport is sent by an external watchdog when a write task has
// taken too long.
type TimeoutReport struct {
	TaskID uuid.UUID
	JobID  uuid.UUID
}

// HandleTimeoutReport treats the report as a Timeout write response.
func (m *CompactionManager) HandleTimeoutReport(ctx context.Context, r TimeoutReport, sc *system.Context) {
	m.HandleWriteTaskResponse(ctx, WriteTaskResponse{TaskID: r.TaskID, JobID: r.JobID, Status: TaskTimeout}, sc)
}

// ReportTimeout delivers a TimeoutReport to a running manager.
func ReportTimeout(ctx context.Context, manager system.Sender[*CompactionManager], taskID, jobID uuid.UUID) error {
	return manager.Send(ctx, system.Envelope(TimeoutReport{TaskID: taskID, JobID: jobID}, (*CompactionManager).HandleTimeoutReport))
}

// JobsQuery asks the manager for a snapshot of its live jobs.
type JobsQuery struct {
	Reply chan<- []JobInfo
}

func (m *CompactionManager) HandleJobsQuery(ctx context.Context, q JobsQuery, _ *system.Context) {
	select {
	case q.Reply <- m.Jobs():
	case <-ctx.Done():
	}
}

// Jobs returns a snapshot of the live jobs.
func (m *CompactionManager) Jobs() []JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobInfo, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Info())
	}
	return out
}

// FailedJobs returns the dead-letter list.
func (m *CompactionManager) FailedJobs() []FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FailedJob(nil), m.deadLetter...)
}

var (
	_ system.Component = (*CompactionManager)(nil)
	_ system.Runner    = (*CompactionManager)(nil)
)
