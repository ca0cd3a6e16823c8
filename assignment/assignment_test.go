package assignment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Ishiihara/chroma/compactor"
	"github.com/Ishiihara/chroma/internal/testutil"
	"github.com/Ishiihara/chroma/logstore"
	"github.com/Ishiihara/chroma/memberlist"
	"github.com/Ishiihara/chroma/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendezvousPolicy(t *testing.T) {
	p := RendezvousPolicy{}
	_, err := p.Assign("c1", nil)
	assert.ErrorIs(t, err, ErrNoMembers)

	members := memberlist.Memberlist{"w1", "w2", "w3"}
	reordered := memberlist.Memberlist{"w3", "w1", "w2"}
	counts := map[string]int{}
	before := map[string]string{}
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("collection-%d", i)
		owner, err := p.Assign(key, members)
		require.NoError(t, err)
		again, err := p.Assign(key, reordered)
		require.NoError(t, err)
		assert.Equal(t, owner, again, "member order does not matter")
		counts[owner]++
		before[key] = owner
	}
	for _, m := range members {
		assert.Greater(t, counts[m], 50, "keys spread across members")
	}

	// Removing a member only moves the keys it owned.
	shrunk := memberlist.Memberlist{"w1", "w3"}
	for key, owner := range before {
		now, err := p.Assign(key, shrunk)
		require.NoError(t, err)
		if owner != "w2" {
			assert.Equal(t, owner, now, key)
		} else {
			assert.NotEqual(t, "w2", now)
		}
	}
}

func newProducer(t *testing.T, self string, log *logstore.InMemoryLog, s *compactor.Scheduler) *Producer {
	t.Helper()
	return NewProducer(ProducerParams{Self: self, Log: log, Scheduler: s, BatchSize: 4})
}

func TestProducer_Tick(t *testing.T) {
	log := logstore.NewInMemoryLog(nil)
	testutil.Fill(t, log, "tenant", testutil.Records("c1", "a", "b", "c", "d", "e", "f"))
	s := compactor.NewScheduler()
	p := newProducer(t, "w1", log, s)

	assert.Zero(t, p.Tick(), "no memberlist yet")
	p.HandleMemberlist(context.Background(), memberlist.Memberlist{"w1"}, nil)
	assert.True(t, p.Owns("c1"))

	require.Equal(t, 1, p.Tick())
	task, ok := s.TakeTask()
	require.True(t, ok)
	assert.Equal(t, "c1", task.CollectionID)
	assert.Equal(t, "tenant", task.TenantID)
	assert.Equal(t, int64(0), task.Offset)
	assert.Equal(t, 4, task.BatchSize)
	assert.Equal(t, int64(4), p.Cursor("c1"))

	assert.Zero(t, p.Tick(), "collection still in flight")
	assert.Equal(t, int64(4), p.Cursor("c1"), "cursor does not move when scheduling is refused")

	s.Complete("c1")
	require.Equal(t, 1, p.Tick())
	task, _ = s.TakeTask()
	assert.Equal(t, int64(4), task.Offset)
	assert.Equal(t, 2, task.BatchSize)
	s.Complete("c1")

	assert.Zero(t, p.Tick(), "log fully scheduled")
	testutil.Fill(t, log, "tenant", testutil.Records("c1", "g"))
	assert.Equal(t, 1, p.Tick())
}

func TestProducer_OnlyOwnedCollections(t *testing.T) {
	log := logstore.NewInMemoryLog(nil)
	for i := 0; i < 20; i++ {
		testutil.Fill(t, log, "tenant", testutil.Records(fmt.Sprintf("c%d", i), "a"))
	}
	members := memberlist.Memberlist{"w1", "w2"}
	s1, s2 := compactor.NewScheduler(), compactor.NewScheduler()
	p1, p2 := newProducer(t, "w1", log, s1), newProducer(t, "w2", log, s2)
	p1.HandleMemberlist(context.Background(), members, nil)
	p2.HandleMemberlist(context.Background(), members, nil)

	n1, n2 := p1.Tick(), p2.Tick()
	assert.Equal(t, 20, n1+n2, "every collection has exactly one owner")
	assert.Positive(t, n1)
	assert.Positive(t, n2)
}

func TestProducer_FollowsMembership(t *testing.T) {
	sys := system.New(context.Background(), system.Params{})
	defer sys.Stop()
	log := logstore.NewInMemoryLog(nil)
	testutil.Fill(t, log, "tenant", testutil.Records("c1", "a"))
	s := compactor.NewScheduler()
	p := NewProducer(ProducerParams{Self: "w1", Log: log, Scheduler: s, Interval: 5 * time.Millisecond})

	h := system.Start(sys, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Follow(ctx, sys, h, memberlist.StaticSource{Members: memberlist.Memberlist{"w1"}}))

	require.Eventually(t, func() bool { return s.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.Stop()
	require.NoError(t, h.Join(context.Background()))
}
