package compactor

import (
	"context"
	"sync"
)

// Scheduler is a FIFO of pending compaction tasks shared between the
// producers that decide what to compact and the manager that compacts it.
// A collection is queued or in flight at most once.
type Scheduler struct {
	mu       sync.Mutex
	queue    []Task
	queued   map[string]struct{}
	inflight map[string]struct{}
	stopped  bool
	changed  chan struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		queued:   make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		changed:  make(chan struct{}),
	}
}

// Schedule appends task to the queue.
func (s *Scheduler) Schedule(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, ok := s.queued[task.CollectionID]; ok {
		return ErrAlreadyScheduled
	}
	if _, ok := s.inflight[task.CollectionID]; ok {
		return ErrAlreadyScheduled
	}
	s.queue = append(s.queue, task)
	s.queued[task.CollectionID] = struct{}{}
	s.notifyLocked()
	return nil
}

// TakeTask pops the oldest task without blocking. The task's collection
// stays in flight until Complete is called for it.
func (s *Scheduler) TakeTask() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Task{}, false
	}
	task := s.queue[0]
	s.queue[0] = Task{}
	s.queue = s.queue[1:]
	delete(s.queued, task.CollectionID)
	s.inflight[task.CollectionID] = struct{}{}
	s.notifyLocked()
	return task, true
}

// Complete releases the in-flight mark of a collection.
func (s *Scheduler) Complete(collectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[collectionID]; !ok {
		return
	}
	delete(s.inflight, collectionID)
	s.notifyLocked()
}

// Len is the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight is the number of collections taken but not completed.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Stop rejects further Schedule calls. Queued tasks can still be taken.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.notifyLocked()
}

// Join waits until the queue is drained and nothing is in flight.
func (s *Scheduler) Join(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 && len(s.inflight) == 0 {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
