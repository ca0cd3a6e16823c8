// Package hooks is the compaction lifecycle event bus.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// EventPreCompaction fires before a job scans. A listener error skips the job.
	EventPreCompaction  EventType = "PreCompaction"
	EventPostScan       EventType = "PostScan"
	EventPostDedup      EventType = "PostDedup"
	EventPostWriteTask  EventType = "PostWriteTask"
	EventPostFlush      EventType = "PostFlush"
	EventPostCompaction EventType = "PostCompaction"

	EventOnJobFailed  EventType = "OnJobFailed"
	EventOnWriteRetry EventType = "OnWriteRetry"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreCompactionPayload describes the task a job is about to compact.
type PreCompactionPayload struct {
	JobID        uuid.UUID
	CollectionID string
	TenantID     string
	Offset       int64
}

func NewPreCompactionEvent(payload PreCompactionPayload) HookEvent {
	return &BaseEvent{eventType: EventPreCompaction, payload: payload}
}

// PostScanPayload reports how many records a scan returned.
type PostScanPayload struct {
	JobID        uuid.UUID
	CollectionID string
	Records      int
}

func NewPostScanEvent(payload PostScanPayload) HookEvent {
	return &BaseEvent{eventType: EventPostScan, payload: payload}
}

// PostDedupPayload reports the record counts around deduplication.
type PostDedupPayload struct {
	JobID        uuid.UUID
	CollectionID string
	Before       int
	After        int
}

func NewPostDedupEvent(payload PostDedupPayload) HookEvent {
	return &BaseEvent{eventType: EventPostDedup, payload: payload}
}

// PostWriteTaskPayload reports the outcome of one write task.
type PostWriteTaskPayload struct {
	JobID        uuid.UUID
	TaskID       uuid.UUID
	CollectionID string
	Records      int
	Status       string
	Duration     time.Duration
	Error        error
}

func NewPostWriteTaskEvent(payload PostWriteTaskPayload) HookEvent {
	return &BaseEvent{eventType: EventPostWriteTask, payload: payload}
}

// PostFlushPayload reports the outcome of a job's flush.
type PostFlushPayload struct {
	JobID        uuid.UUID
	CollectionID string
	Error        error
}

func NewPostFlushEvent(payload PostFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPostFlush, payload: payload}
}

// PostCompactionPayload contains data about a completed job.
type PostCompactionPayload struct {
	JobID          uuid.UUID
	CollectionID   string
	ScannedRecords int
	WrittenRecords int
	WriteTasks     int
	Duration       time.Duration
}

func NewPostCompactionEvent(payload PostCompactionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCompaction, payload: payload}
}

// JobFailedPayload describes a job that reached the Failed state.
type JobFailedPayload struct {
	JobID        uuid.UUID
	CollectionID string
	Reason       error
}

func NewOnJobFailedEvent(payload JobFailedPayload) HookEvent {
	return &BaseEvent{eventType: EventOnJobFailed, payload: payload}
}

// WriteRetryPayload describes a write task being re-dispatched.
type WriteRetryPayload struct {
	JobID   uuid.UUID
	TaskID  uuid.UUID
	Attempt int
	Delay   time.Duration
	Cause   string
}

func NewOnWriteRetryEvent(payload WriteRetryPayload) HookEvent {
	return &BaseEvent{eventType: EventOnWriteRetry, payload: payload}
}

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook cancels the operation.
	// Errors from other hooks are logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// ListenerFunc adapts a function into a synchronous HookListener with
// priority 0.
type ListenerFunc func(ctx context.Context, event HookEvent) error

func (f ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return f(ctx, event) }
func (f ListenerFunc) Priority() int                                      { return 0 }
func (f ListenerFunc) IsAsync() bool                                      { return false }

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// Each slice is kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger.With("component", "HookManager"),
	}
}

// Register adds a listener for a specific event type, maintaining priority
// order. Listeners with equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := append([]*listenerWithPriority(nil), m.listeners[event.Type()]...)
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}
	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks are always synchronous so they can cancel.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(currentItem *listenerWithPriority) {
			defer m.wg.Done()
			if err := currentItem.listener.OnEvent(context.WithoutCancel(ctx), event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
