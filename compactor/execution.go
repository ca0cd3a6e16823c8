package compactor

import (
	"context"
	"log/slog"

	"github.com/Ishiihara/chroma/system"
)

// Execution is the contract every pipeline stage implements: Run produces
// the stage output and Done wraps it into the stage's response.
type Execution[O, R any] interface {
	Run(ctx context.Context) (O, error)
	Done(out O, err error) R
}

// Deliver sends resp to dest. Delivery is best effort: a failed send is
// logged and the response dropped.
func Deliver[R any](ctx context.Context, resp R, dest system.Receiver[R], logger *slog.Logger) bool {
	if dest == nil {
		logger.Warn("Dropping task response, no destination configured.")
		return false
	}
	if err := dest.Send(ctx, resp); err != nil {
		logger.Warn("Dropping task response, destination unavailable.", "error", err)
		return false
	}
	return true
}

// RunAsync runs exec, wraps its output and delivers the response. Nothing
// is delivered once ctx is cancelled; the invoker only sees the
// cancellation.
func RunAsync[O, R any](ctx context.Context, exec Execution[O, R], dest system.Receiver[R], logger *slog.Logger) bool {
	out, err := exec.Run(ctx)
	if ctx.Err() != nil {
		logger.Debug("Discarding response of cancelled task.", "error", ctx.Err())
		return false
	}
	return Deliver(ctx, exec.Done(out, err), dest, logger)
}

// asyncTask adapts an Execution into a one-shot component whose result is
// delivered to dest rather than returned. It waits for gate before running
// so the invoker can send bookkeeping messages that must arrive first.
type asyncTask[O, R any] struct {
	system.Base
	name      string
	placement system.Placement
	exec      Execution[O, R]
	dest      system.Receiver[R]
	gate      <-chan struct{}
}

func newAsyncTask[O, R any](name string, exec Execution[O, R], dest system.Receiver[R], gate <-chan struct{}) *asyncTask[O, R] {
	t := &asyncTask[O, R]{name: name, placement: system.PlacementGlobal, exec: exec, dest: dest, gate: gate}
	if c, ok := any(exec).(system.Component); ok {
		t.placement = c.Placement()
	}
	return t
}

func (t *asyncTask[O, R]) Name() string                 { return t.name }
func (t *asyncTask[O, R]) Placement() system.Placement { return t.placement }

func (t *asyncTask[O, R]) RunTask(ctx context.Context, sc *system.Context) (struct{}, error) {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	}
	if !RunAsync(ctx, t.exec, t.dest, sc.Logger) && ctx.Err() != nil {
		return struct{}{}, ctx.Err()
	}
	return struct{}{}, nil
}
