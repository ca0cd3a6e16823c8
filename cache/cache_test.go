package cache

import (
	"expvar"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_PutAndGet(t *testing.T) {
	c := NewLRUCache[string, []byte](3, nil)

	c.Put("key1", []byte("value1"))
	c.Put("key2", []byte("value2"))
	c.Put("key3", []byte("value3"))
	assert.Equal(t, 3, c.Len())

	v, ok := c.Get("key3")
	require.True(t, ok)
	assert.Equal(t, []byte("value3"), v)

	// key1 becomes most recent, so key2 is evicted next.
	_, ok = c.Get("key1")
	require.True(t, ok)
	c.Put("key4", []byte("value4"))
	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("key2")
	assert.False(t, ok)

	c.Put("key1", []byte("updated"))
	v, _ = c.Get("key1")
	assert.Equal(t, []byte("updated"), v)
	assert.Equal(t, 3, c.Len())
}

func TestLRUCache_Disabled(t *testing.T) {
	c := NewLRUCache[string, int](0, nil)
	c.Put("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRUCache_OnEvictedAndClear(t *testing.T) {
	evicted := map[string]int{}
	c := NewLRUCache(2, func(k string, v int) { evicted[k] = v })
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	assert.Equal(t, map[string]int{"a": 1}, evicted)

	c.Clear()
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, evicted)
	assert.Zero(t, c.Len())
}

func TestLRUCache_Metrics(t *testing.T) {
	c := NewLRUCache[int, string](2, nil)
	hits, misses := new(expvar.Int), new(expvar.Int)
	c.SetMetrics(hits, misses)
	assert.Zero(t, c.GetHitRate())

	c.Put(1, "one")
	c.Get(1)
	c.Get(1)
	c.Get(1)
	c.Get(2)
	assert.Equal(t, int64(3), hits.Value())
	assert.Equal(t, int64(1), misses.Value())
	assert.InDelta(t, 0.75, c.GetHitRate(), 1e-9)

	c.Clear()
	assert.Zero(t, hits.Value())
	assert.Zero(t, misses.Value())
}
