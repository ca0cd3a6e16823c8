package sysdb

import (
	"context"
	"testing"

	"github.com/Ishiihara/chroma/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()

	require.NoError(t, db.CreateCollection(ctx, core.Collection{ID: "c1", Name: "one", Topic: "t1"}))
	require.NoError(t, db.CreateCollection(ctx, core.Collection{ID: "c2", Name: "two", Topic: "t2"}))
	assert.ErrorIs(t, db.CreateCollection(ctx, core.Collection{ID: "c1"}), ErrAlreadyExists)
	assert.True(t, core.IsValidationError(db.CreateCollection(ctx, core.Collection{})))

	require.NoError(t, db.CreateSegment(ctx, core.Segment{ID: "s1", Scope: core.SegmentScopeVector, CollectionID: "c1"}))
	require.NoError(t, db.CreateSegment(ctx, core.Segment{ID: "s2", Scope: core.SegmentScopeMetadata, CollectionID: "c1"}))
	require.NoError(t, db.CreateSegment(ctx, core.Segment{ID: "s3", Scope: core.SegmentScopeVector, CollectionID: "c2"}))
	assert.ErrorIs(t, db.CreateSegment(ctx, core.Segment{ID: "s4", CollectionID: "nope"}), core.ErrCollectionNotFound)
	assert.ErrorIs(t, db.CreateSegment(ctx, core.Segment{ID: "s1", CollectionID: "c1"}), ErrAlreadyExists)

	t.Run("collection filters", func(t *testing.T) {
		all, err := db.GetCollections(ctx, CollectionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		byTopic, err := db.GetCollections(ctx, CollectionFilter{Topic: "t2"})
		require.NoError(t, err)
		require.Len(t, byTopic, 1)
		assert.Equal(t, "c2", byTopic[0].ID)

		none, err := db.GetCollections(ctx, CollectionFilter{Name: "zzz"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("segment filters", func(t *testing.T) {
		segs, err := db.GetSegments(ctx, SegmentFilter{CollectionID: "c1", Scope: core.SegmentScopeVector})
		require.NoError(t, err)
		require.Len(t, segs, 1)
		assert.Equal(t, "s1", segs[0].ID)
	})

	t.Run("delete cascades", func(t *testing.T) {
		require.NoError(t, db.DeleteCollection(ctx, "c1"))
		segs, err := db.GetSegments(ctx, SegmentFilter{CollectionID: "c1"})
		require.NoError(t, err)
		assert.Empty(t, segs)
		assert.ErrorIs(t, db.DeleteCollection(ctx, "c1"), core.ErrCollectionNotFound)
	})
}
