package system

import (
	"context"
	"sync"
	"sync/atomic"
)

// ComponentState is the lifecycle state of a started component.
type ComponentState int32

const (
	StateRunning ComponentState = iota
	StateStopped
)

func (s ComponentState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// ComponentHandle owns a started component's cancellation token and lets
// callers send to it and wait for it to exit.
type ComponentHandle[C any] struct {
	component C
	sender    Sender[C]
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	state     atomic.Int32
}

// Sender returns the component's mailbox sender.
func (h *ComponentHandle[C]) Sender() Sender[C] { return h.sender }

// Component returns the hosted component.
func (h *ComponentHandle[C]) Component() C { return h.component }

// Stop cancels the component. Handlers observe it at their next
// suspension point.
func (h *ComponentHandle[C]) Stop() { h.cancel() }

// Done is closed once the component has fully exited.
func (h *ComponentHandle[C]) Done() <-chan struct{} { return h.done }

// Join waits for the component to exit or for ctx to be done.
func (h *ComponentHandle[C]) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ComponentHandle[C]) State() ComponentState {
	return ComponentState(h.state.Load())
}

// Cancellable is the type-erased view of a JobHandle.
type Cancellable interface {
	Cancel()
	Done() <-chan struct{}
}

// JobHandle is the future returned by Invoke.
type JobHandle[T any] struct {
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
	cancelled atomic.Bool

	val T
	err error
}

func newJobHandle[T any](cancel context.CancelFunc) *JobHandle[T] {
	return &JobHandle[T]{cancel: cancel, done: make(chan struct{})}
}

// Cancel aborts the job. Await then reports ErrJobCancelled unless the
// result was already delivered.
func (h *JobHandle[T]) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

func (h *JobHandle[T]) Done() <-chan struct{} { return h.done }

// Await blocks until the job finishes or ctx is done. A cancelled job never
// yields a partial result.
func (h *JobHandle[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (h *JobHandle[T]) complete(runCtx context.Context, val T, err error) {
	h.once.Do(func() {
		if h.cancelled.Load() || runCtx.Err() != nil {
			var zero T
			h.val, h.err = zero, ErrJobCancelled
		} else {
			h.val, h.err = val, err
		}
		close(h.done)
	})
}

var _ Cancellable = (*JobHandle[int])(nil)
