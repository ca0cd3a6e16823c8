package system

import (
	"context"
	"fmt"
	"log/slog"
)

// Placement selects the execution context a component runs under.
type Placement int

const (
	// PlacementGlobal runs on the process-wide scheduler.
	PlacementGlobal Placement = iota
	// PlacementInherit shares the caller's scheduler. In this runtime that is
	// the same shared pool as PlacementGlobal.
	PlacementInherit
	// PlacementDedicated gives the component a single goroutine locked to
	// its own OS thread. Use it to isolate blocking or long CPU work.
	PlacementDedicated
	// PlacementMultiThread gives the component its own bounded pool of
	// goroutines. Handlers may run concurrently.
	PlacementMultiThread
)

func (p Placement) String() string {
	switch p {
	case PlacementGlobal:
		return "global"
	case PlacementInherit:
		return "inherit"
	case PlacementDedicated:
		return "dedicated"
	case PlacementMultiThread:
		return "multi_thread"
	default:
		return fmt.Sprintf("placement(%d)", int(p))
	}
}

// Context is handed to every hook and handler of a running component.
type Context struct {
	System *System
	Logger *slog.Logger
	Name   string
}

// Component is anything the System can host.
type Component interface {
	// QueueSize is the mailbox capacity. Values below 1 are treated as 1.
	QueueSize() int
	Placement() Placement
	// OnStart runs once, before the first message is delivered.
	OnStart(sc *Context)
}

// Runner is implemented by components with a long-running body. Run is
// started once, alongside the mailbox loop, and must return when ctx is done.
type Runner interface {
	Run(ctx context.Context, sc *Context)
}

// Invocable is a component with a single execution, used with Invoke.
type Invocable[T any] interface {
	Component
	RunTask(ctx context.Context, sc *Context) (T, error)
}

// Workers is implemented by MultiThread components that want a specific
// pool size.
type Workers interface {
	Workers() int
}

// Base supplies default Component methods: queue size 1, global placement
// and an empty start hook. Embed it and override what differs.
type Base struct{}

func (Base) QueueSize() int       { return 1 }
func (Base) Placement() Placement { return PlacementGlobal }
func (Base) OnStart(*Context)     {}

func componentName(c any) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}
