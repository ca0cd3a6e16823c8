package system

import (
	"context"
	"log/slog"
	"sync"
)

// WorkerPool manages a fixed set of goroutines that run submitted functions.
// MultiThread components dispatch their handlers through one.
type WorkerPool struct {
	numWorkers int
	jobQueue   chan func()
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool.
// numWorkers: the number of worker goroutines to spawn.
// queueSize: the size of the job queue.
func NewWorkerPool(numWorkers, queueSize int, logger *slog.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan func(), queueSize),
		logger:     logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Debug("Worker pool started", "num_workers", wp.numWorkers)
}

// Submit queues fn, blocking while the queue is full.
func (wp *WorkerPool) Submit(ctx context.Context, fn func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrSystemStopped
	}
	select {
	case wp.jobQueue <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the worker pool.
// It closes the job queue and waits for all workers to finish their current jobs.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()
	wp.wg.Wait()
	wp.logger.Debug("Worker pool stopped")
}

// worker is the main loop for a single worker goroutine.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for fn := range wp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error("Recovered panic in worker pool job.", "worker_id", id, "panic", r)
				}
			}()
			fn()
		}()
	}
}
