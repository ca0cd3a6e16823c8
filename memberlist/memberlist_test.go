package memberlist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberlist(t *testing.T) {
	m := Memberlist{"c", "a", "b", "a"}
	assert.Equal(t, Memberlist{"a", "b", "c"}, m.Normalize())
	assert.Equal(t, Memberlist{"c", "a", "b", "a"}, m, "Normalize does not modify the receiver")
	assert.True(t, m.Equal(Memberlist{"b", "c", "a"}))
	assert.False(t, m.Equal(Memberlist{"a", "b"}))
	assert.True(t, m.Contains("b"))
	assert.False(t, m.Contains("d"))
}

func TestStaticSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := StaticSource{Members: Memberlist{"w2", "w1"}}.Watch(ctx)
	require.NoError(t, err)
	assert.Equal(t, Memberlist{"w1", "w2"}, <-ch)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

// fakeZK is an in-memory tree with child watches.
type fakeZK struct {
	mu       sync.Mutex
	nodes    map[string]bool
	watches  map[string][]chan zk.Event
	state    zk.State
	failNext int
	closed   bool
}

func newFakeZK() *fakeZK {
	return &fakeZK{nodes: map[string]bool{}, watches: map[string][]chan zk.Event{}, state: zk.StateHasSession}
}

func (f *fakeZK) Exists(p string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[p], nil, nil
}

func (f *fakeZK) Create(p string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	if f.nodes[p] {
		f.mu.Unlock()
		return "", zk.ErrNodeExists
	}
	f.nodes[p] = true
	f.mu.Unlock()
	f.fire(parent(p))
	return p, nil
}

func (f *fakeZK) Delete(p string) {
	f.mu.Lock()
	delete(f.nodes, p)
	f.mu.Unlock()
	f.fire(parent(p))
}

func (f *fakeZK) fire(p string) {
	f.mu.Lock()
	watches := f.watches[p]
	delete(f.watches, p)
	f.mu.Unlock()
	for _, w := range watches {
		w <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: p}
	}
}

func (f *fakeZK) ChildrenW(p string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, nil, nil, errors.New("connection loss")
	}
	var children []string
	for n := range f.nodes {
		if parent(n) == p {
			children = append(children, n[len(p)+1:])
		}
	}
	ch := make(chan zk.Event, 1)
	f.watches[p] = append(f.watches[p], ch)
	return children, nil, ch, nil
}

func (f *fakeZK) State() zk.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeZK) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func parent(p string) string {
	return p[:strings.LastIndex(p, "/")]
}

func next(t *testing.T, ch <-chan Memberlist) Memberlist {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no memberlist update")
		return nil
	}
}

func TestZKSource_Watch(t *testing.T) {
	conn := newFakeZK()
	conn.failNext = 1
	src := newZKSource(conn, ZKParams{Root: "cluster", Self: "w1:50051", RetryInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Watch(ctx)
	require.NoError(t, err)
	assert.True(t, conn.nodes["/cluster"])
	assert.Equal(t, Memberlist{"w1:50051"}, next(t, ch))

	_, err = conn.Create("/cluster/nodes/w2:50051", nil, zk.FlagEphemeral, nil)
	require.NoError(t, err)
	assert.Equal(t, Memberlist{"w1:50051", "w2:50051"}, next(t, ch))

	conn.Delete("/cluster/nodes/w1:50051")
	assert.Equal(t, Memberlist{"w2:50051"}, next(t, ch))

	require.NoError(t, src.RegisterSelf(ctx), "registering twice is not an error")
	assert.Equal(t, Memberlist{"w1:50051", "w2:50051"}, next(t, ch))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.NoError(t, src.Close())
	assert.True(t, conn.closed)
}

func TestZKSource_NotConnected(t *testing.T) {
	conn := newFakeZK()
	conn.state = zk.StateConnecting
	src := newZKSource(conn, ZKParams{Self: "w1", ConnectTimeout: 20 * time.Millisecond}, nil)

	_, err := src.Watch(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewZKSource_RequiresServers(t *testing.T) {
	_, err := NewZKSource(ZKParams{})
	assert.Error(t, err)
}
