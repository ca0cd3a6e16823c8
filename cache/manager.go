package cache

import (
	"context"
	"fmt"

	"github.com/Ishiihara/chroma/system"
)

// Insert is the message that stores a value.
type Insert[K comparable, V any] struct {
	Key   K
	Value V
}

// Lookup is the reply to a Get message.
type Lookup[V any] struct {
	Value V
	Found bool
}

// Get is the message that reads a value. The reply is sent on Reply, which
// must be buffered.
type Get[K comparable, V any] struct {
	Key   K
	Reply chan<- Lookup[V]
}

// Manager is a component that owns a cache and serializes access to it
// through its mailbox. Get and Insert share the mailbox.
type Manager[K comparable, V any] struct {
	system.Base
	cache Interface[K, V]
}

func NewManager[K comparable, V any](c Interface[K, V]) *Manager[K, V] {
	return &Manager[K, V]{cache: c}
}

func (m *Manager[K, V]) QueueSize() int { return 1000 }

func (m *Manager[K, V]) Name() string { return fmt.Sprintf("CacheManager[%T]", *new(V)) }

func (m *Manager[K, V]) HandleInsert(_ context.Context, msg Insert[K, V], _ *system.Context) {
	m.cache.Put(msg.Key, msg.Value)
}

func (m *Manager[K, V]) HandleGet(_ context.Context, msg Get[K, V], _ *system.Context) {
	v, ok := m.cache.Get(msg.Key)
	msg.Reply <- Lookup[V]{Value: v, Found: ok}
}

// Client wraps a started Manager with blocking helpers.
type Client[K comparable, V any] struct {
	sender system.Sender[*Manager[K, V]]
}

func NewClient[K comparable, V any](h *system.ComponentHandle[*Manager[K, V]]) *Client[K, V] {
	return &Client[K, V]{sender: h.Sender()}
}

func (c *Client[K, V]) Insert(ctx context.Context, key K, value V) error {
	return c.sender.Send(ctx, system.Envelope(Insert[K, V]{Key: key, Value: value}, (*Manager[K, V]).HandleInsert))
}

func (c *Client[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	reply := make(chan Lookup[V], 1)
	if err := c.sender.Send(ctx, system.Envelope(Get[K, V]{Key: key, Reply: reply}, (*Manager[K, V]).HandleGet)); err != nil {
		return zero, false, err
	}
	select {
	case r := <-reply:
		return r.Value, r.Found, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}
