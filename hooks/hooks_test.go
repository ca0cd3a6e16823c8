package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockListener is a mock implementation of HookListener for testing.
type mockListener struct {
	priority   int
	callSignal chan string
	mu         *sync.Mutex
	callOrder  *[]string
	name       string
	returnErr  error
	isAsync    bool
	workDelay  time.Duration
}

func (m *mockListener) OnEvent(ctx context.Context, event HookEvent) error {
	if m.workDelay > 0 {
		time.Sleep(m.workDelay)
	}
	if m.callOrder != nil {
		m.mu.Lock()
		*m.callOrder = append(*m.callOrder, m.name)
		m.mu.Unlock()
	}
	if m.callSignal != nil {
		m.callSignal <- m.name
	}
	return m.returnErr
}

func (m *mockListener) Priority() int { return m.priority }
func (m *mockListener) IsAsync() bool { return m.isAsync }

func preEvent() HookEvent {
	return NewPreCompactionEvent(PreCompactionPayload{JobID: uuid.New(), CollectionID: "c1"})
}

func postEvent() HookEvent {
	return NewPostCompactionEvent(PostCompactionPayload{JobID: uuid.New(), CollectionID: "c1"})
}

func TestDefaultHookManager_Register(t *testing.T) {
	manager := NewHookManager(nil).(*DefaultHookManager)
	manager.Register(EventPreCompaction, &mockListener{name: "listener1", priority: 10})
	manager.Register(EventPreCompaction, &mockListener{name: "listener2", priority: 1})
	manager.Register(EventPreCompaction, &mockListener{name: "listener3", priority: 5})
	manager.Register(EventPreCompaction, &mockListener{name: "listener4", priority: 5})

	listeners := manager.listeners[EventPreCompaction]
	require.Len(t, listeners, 4)
	var names []string
	for _, l := range listeners {
		names = append(names, l.listener.(*mockListener).name)
	}
	assert.Equal(t, []string{"listener2", "listener3", "listener4", "listener1"}, names)
}

func TestDefaultHookManager_Trigger(t *testing.T) {
	t.Run("pre-hooks run in priority order", func(t *testing.T) {
		manager := NewHookManager(nil)
		var mu sync.Mutex
		var order []string
		manager.Register(EventPreCompaction, &mockListener{name: "b", priority: 10, mu: &mu, callOrder: &order})
		manager.Register(EventPreCompaction, &mockListener{name: "a", priority: 1, mu: &mu, callOrder: &order})
		manager.Register(EventPreCompaction, &mockListener{name: "async-ignored", priority: 5, mu: &mu, callOrder: &order, isAsync: true})

		require.NoError(t, manager.Trigger(context.Background(), preEvent()))
		assert.Equal(t, []string{"a", "async-ignored", "b"}, order)
	})

	t.Run("pre-hook error cancels and stops the chain", func(t *testing.T) {
		manager := NewHookManager(nil)
		var mu sync.Mutex
		var order []string
		veto := errors.New("blocked")
		manager.Register(EventPreCompaction, &mockListener{name: "first", priority: 1, mu: &mu, callOrder: &order, returnErr: veto})
		manager.Register(EventPreCompaction, &mockListener{name: "second", priority: 2, mu: &mu, callOrder: &order})

		err := manager.Trigger(context.Background(), preEvent())
		assert.ErrorIs(t, err, veto)
		assert.Equal(t, []string{"first"}, order)
	})

	t.Run("post-hook errors are swallowed", func(t *testing.T) {
		manager := NewHookManager(nil)
		var mu sync.Mutex
		var order []string
		manager.Register(EventPostCompaction, &mockListener{name: "fails", priority: 1, mu: &mu, callOrder: &order, returnErr: errors.New("x")})
		manager.Register(EventPostCompaction, &mockListener{name: "runs", priority: 2, mu: &mu, callOrder: &order})

		require.NoError(t, manager.Trigger(context.Background(), postEvent()))
		assert.Equal(t, []string{"fails", "runs"}, order)
	})

	t.Run("async post-hooks do not block and Stop waits", func(t *testing.T) {
		manager := NewHookManager(nil)
		signal := make(chan string, 1)
		manager.Register(EventPostCompaction, &mockListener{name: "slow", isAsync: true, callSignal: signal, workDelay: 50 * time.Millisecond})

		start := time.Now()
		require.NoError(t, manager.Trigger(context.Background(), postEvent()))
		assert.Less(t, time.Since(start), 40*time.Millisecond)

		manager.Stop()
		select {
		case name := <-signal:
			assert.Equal(t, "slow", name)
		default:
			t.Fatal("Stop returned before the async listener finished")
		}
	})

	t.Run("async listeners outlive a cancelled context", func(t *testing.T) {
		manager := NewHookManager(nil)
		var seen atomic.Bool
		manager.Register(EventPostFlush, asyncFunc(func(ctx context.Context, _ HookEvent) error {
			seen.Store(ctx.Err() == nil)
			return nil
		}))
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, manager.Trigger(ctx, NewPostFlushEvent(PostFlushPayload{})))
		cancel()
		manager.Stop()
		assert.True(t, seen.Load())
	})

	t.Run("no listeners", func(t *testing.T) {
		assert.NoError(t, NewHookManager(nil).Trigger(context.Background(), postEvent()))
	})
}

type asyncFunc func(ctx context.Context, event HookEvent) error

func (f asyncFunc) OnEvent(ctx context.Context, e HookEvent) error { return f(ctx, e) }
func (f asyncFunc) Priority() int                                  { return 0 }
func (f asyncFunc) IsAsync() bool                                  { return true }

func TestListenerFunc(t *testing.T) {
	manager := NewHookManager(nil)
	var got PostScanPayload
	manager.Register(EventPostScan, ListenerFunc(func(_ context.Context, e HookEvent) error {
		got = e.Payload().(PostScanPayload)
		return nil
	}))
	id := uuid.New()
	require.NoError(t, manager.Trigger(context.Background(), NewPostScanEvent(PostScanPayload{JobID: id, Records: 3})))
	assert.Equal(t, id, got.JobID)
	assert.Equal(t, 3, got.Records)
}
