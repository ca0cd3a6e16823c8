package system

import (
	"context"
	"log/slog"
	"runtime"
)

// executor is the placement strategy a component is started with.
type executor interface {
	// start runs the mailbox loop and returns immediately.
	start(loop func())
	// dispatch runs one handler. Single-consumer placements run it inline,
	// which keeps per-sender ordering.
	dispatch(fn func())
	// spawn runs a unit of work that is not a handler.
	spawn(fn func())
	// stop waits for dispatched work to finish.
	stop()
}

func newExecutor(p Placement, workers int, logger *slog.Logger) executor {
	switch p {
	case PlacementDedicated:
		return dedicatedExecutor{}
	case PlacementMultiThread:
		if workers < 1 {
			workers = runtime.GOMAXPROCS(0)
		}
		return &multiThreadExecutor{pool: NewWorkerPool(workers, workers, logger)}
	default:
		return sharedExecutor{}
	}
}

// oneShotExecutor runs a single invocation. MultiThread invocations are
// already one goroutine each, so they share the runtime's pool instead of
// owning a worker pool.
func oneShotExecutor(p Placement) executor {
	if p == PlacementDedicated {
		return dedicatedExecutor{}
	}
	return sharedExecutor{}
}

// sharedExecutor schedules onto the Go runtime's shared pool.
type sharedExecutor struct{}

func (sharedExecutor) start(loop func())  { go loop() }
func (sharedExecutor) dispatch(fn func()) { fn() }
func (sharedExecutor) spawn(fn func())    { go fn() }
func (sharedExecutor) stop()              {}

// dedicatedExecutor pins each goroutine it starts to its own OS thread.
type dedicatedExecutor struct{}

func (dedicatedExecutor) start(loop func())  { go locked(loop) }
func (dedicatedExecutor) dispatch(fn func()) { fn() }
func (dedicatedExecutor) spawn(fn func())    { go locked(fn) }
func (dedicatedExecutor) stop()              {}

func locked(fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fn()
}

// multiThreadExecutor fans handlers out to an owned worker pool.
type multiThreadExecutor struct {
	pool *WorkerPool
}

func (e *multiThreadExecutor) start(loop func()) {
	e.pool.Start()
	go loop()
}

func (e *multiThreadExecutor) dispatch(fn func()) {
	if err := e.pool.Submit(context.Background(), fn); err != nil {
		fn()
	}
}

func (e *multiThreadExecutor) spawn(fn func()) { go fn() }
func (e *multiThreadExecutor) stop()           { e.pool.Stop() }
