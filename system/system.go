// Package system hosts components: long-lived units with a bounded mailbox
// and a placement, and one-shot invocations that yield a JobHandle.
package system

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Params configures a System.
type Params struct {
	Logger *slog.Logger
	// MultiThreadWorkers is the default pool size for MultiThread
	// components that do not implement Workers. 0 means GOMAXPROCS.
	MultiThreadWorkers int
}

// System is the process-wide runtime that starts components and invocations.
type System struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	workers int

	wg      sync.WaitGroup
	stopped atomic.Bool
	running atomic.Int64
}

// New creates a System whose lifetime is bounded by parent.
func New(parent context.Context, params Params) *System {
	logger := params.Logger
	if logger == nil {
		logger = discardLogger()
	}
	ctx, cancel := context.WithCancel(parent)
	return &System{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "System"),
		workers: params.MultiThreadWorkers,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Logger returns the system's logger.
func (s *System) Logger() *slog.Logger { return s.logger }

// Context returns the root context every component derives from.
func (s *System) Context() context.Context { return s.ctx }

// Running reports the number of live components and invocations.
func (s *System) Running() int64 { return s.running.Load() }

// Stop cancels every component and invocation.
func (s *System) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		s.logger.Info("Stopping system.")
	}
	s.cancel()
}

// Join waits until every component and invocation has exited.
func (s *System) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *System) newContext(c any) *Context {
	name := componentName(c)
	return &Context{System: s, Logger: s.logger.With("component", name), Name: name}
}

func (s *System) track() {
	s.wg.Add(1)
	s.running.Add(1)
}

func (s *System) untrack() {
	s.running.Add(-1)
	s.wg.Done()
}

func (s *System) workersFor(c any) int {
	if w, ok := c.(Workers); ok && w.Workers() > 0 {
		return w.Workers()
	}
	return s.workers
}

// guard runs fn and turns a panic into an error.
func guard(sc *Context, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", sc.Name, r)
			sc.Logger.Error("Recovered panic in component.", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
	return nil
}

// Start launches c on its placement and returns a handle to it. OnStart runs
// before the first message is received.
func Start[C Component](s *System, c C) *ComponentHandle[C] {
	ctx, cancel := context.WithCancel(s.ctx)
	mb := newMailbox[C](c.QueueSize())
	h := &ComponentHandle[C]{
		component: c,
		sender:    Sender[C]{mb: mb},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	sc := s.newContext(c)
	exec := newExecutor(c.Placement(), s.workersFor(c), sc.Logger)

	s.track()
	_ = guard(sc, func() { c.OnStart(sc) })

	var bodies sync.WaitGroup
	if r, ok := any(c).(Runner); ok {
		bodies.Add(1)
		exec.spawn(func() {
			defer bodies.Done()
			_ = guard(sc, func() { r.Run(ctx, sc) })
		})
	}

	exec.start(func() {
		defer func() {
			mb.close()
			exec.stop()
			bodies.Wait()
			h.state.Store(int32(StateStopped))
			close(h.done)
			sc.Logger.Debug("Component exited.")
			s.untrack()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-mb.ch:
				exec.dispatch(func() {
					_ = guard(sc, func() { msg.Handle(ctx, c, sc) })
				})
			}
		}
	})
	sc.Logger.Debug("Component started.", "placement", c.Placement().String(), "queue_size", c.QueueSize())
	return h
}

// Invoke runs a fresh one-shot component and returns a handle to its result.
func Invoke[T any](s *System, c Invocable[T]) *JobHandle[T] {
	ctx, cancel := context.WithCancel(s.ctx)
	h := newJobHandle[T](cancel)
	sc := s.newContext(c)

	s.track()
	exec := oneShotExecutor(c.Placement())
	exec.spawn(func() {
		defer s.untrack()
		defer cancel()
		var (
			val T
			err error
		)
		if perr := guard(sc, func() {
			c.OnStart(sc)
			val, err = c.RunTask(ctx, sc)
		}); perr != nil {
			err = perr
		}
		h.complete(ctx, val, err)
	})
	return h
}

// InvokeComponent starts c, delivers exactly one message to it and lets it
// exit. The handle resolves once the message has been handled.
func InvokeComponent[C Component](s *System, c C, msg Message[C]) *JobHandle[struct{}] {
	ctx, cancel := context.WithCancel(s.ctx)
	h := newJobHandle[struct{}](cancel)
	sc := s.newContext(c)

	s.track()
	exec := oneShotExecutor(c.Placement())
	exec.spawn(func() {
		defer s.untrack()
		defer cancel()
		err := guard(sc, func() {
			c.OnStart(sc)
			msg.Handle(ctx, c, sc)
		})
		h.complete(ctx, struct{}{}, err)
	})
	return h
}

// RegisterStream pumps every value from stream into the component's mailbox
// until the stream is closed or the component stops.
func RegisterStream[C, M any](s *System, h *ComponentHandle[C], stream <-chan M, handle HandlerFunc[C, M]) {
	s.track()
	go func() {
		defer s.untrack()
		for {
			select {
			case <-h.ctx.Done():
				return
			case m, ok := <-stream:
				if !ok {
					return
				}
				if err := h.sender.Send(h.ctx, Envelope(m, handle)); err != nil {
					s.logger.Debug("Stream stopped, receiver unavailable.", "error", err)
					return
				}
			}
		}
	}()
}
