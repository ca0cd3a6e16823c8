package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/sysdb"
	"github.com/Ishiihara/chroma/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSysDB struct {
	mock.Mock
}

func (m *mockSysDB) GetCollections(ctx context.Context, f sysdb.CollectionFilter) ([]core.Collection, error) {
	args := m.Called(ctx, f)
	c, _ := args.Get(0).([]core.Collection)
	return c, args.Error(1)
}

func (m *mockSysDB) GetSegments(ctx context.Context, f sysdb.SegmentFilter) ([]core.Segment, error) {
	args := m.Called(ctx, f)
	s, _ := args.Get(0).([]core.Segment)
	return s, args.Error(1)
}

func startMetadataCache(t *testing.T, db sysdb.SysDB) *MetadataCache {
	t.Helper()
	s := system.New(context.Background(), system.Params{})
	t.Cleanup(func() {
		s.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Join(ctx)
	})
	collections := system.Start(s, NewManager[string, core.Collection](NewLRUCache[string, core.Collection](16, nil)))
	segments := system.Start(s, NewManager[string, core.Segment](NewLRUCache[string, core.Segment](16, nil)))
	return NewMetadataCache(NewClient(collections), NewClient(segments), db, nil)
}

func TestManager_InsertThenGet(t *testing.T) {
	ctx := context.Background()
	s := system.New(ctx, system.Params{})
	defer s.Stop()
	client := NewClient(system.Start(s, NewManager[string, int](NewLRUCache[string, int](4, nil))))

	_, found, err := client.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Insert(ctx, "a", 1))
	v, found, err := client.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, v)
}

func TestMetadataCache_GetCollection(t *testing.T) {
	ctx := context.Background()
	db := &mockSysDB{}
	want := core.Collection{ID: "c1", Name: "one"}
	db.On("GetCollections", mock.Anything, sysdb.CollectionFilter{ID: "c1"}).Return([]core.Collection{want}, nil).Once()
	db.On("GetCollections", mock.Anything, sysdb.CollectionFilter{ID: "dup"}).Return([]core.Collection{{ID: "dup"}, {ID: "dup"}}, nil)
	db.On("GetCollections", mock.Anything, sysdb.CollectionFilter{ID: "err"}).Return(nil, errors.New("unavailable"))

	mc := startMetadataCache(t, db)

	got, ok := mc.GetCollection(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Served from cache; the mock allows a single catalog call.
	got, ok = mc.GetCollection(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = mc.GetCollection(ctx, "dup")
	assert.False(t, ok, "ambiguous catalog results are absent")
	_, ok = mc.GetCollection(ctx, "err")
	assert.False(t, ok, "catalog errors are absent")

	db.AssertExpectations(t)
}

func TestMetadataCache_GetSegment(t *testing.T) {
	ctx := context.Background()
	db := &mockSysDB{}
	seg := core.Segment{ID: "s1", CollectionID: "c1", Scope: core.SegmentScopeVector}
	db.On("GetSegments", mock.Anything, sysdb.SegmentFilter{ID: "s1"}).Return([]core.Segment{seg}, nil).Once()
	db.On("GetSegments", mock.Anything, sysdb.SegmentFilter{ID: "none"}).Return([]core.Segment{}, nil)

	mc := startMetadataCache(t, db)
	got, ok := mc.GetSegment(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, seg, got)
	_, ok = mc.GetSegment(ctx, "s1")
	assert.True(t, ok)
	_, ok = mc.GetSegment(ctx, "none")
	assert.False(t, ok)
	db.AssertExpectations(t)
}
