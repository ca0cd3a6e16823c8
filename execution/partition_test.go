package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/Ishiihara/chroma/core"
	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, seq int64) *core.EmbeddingRecord {
	return &core.EmbeddingRecord{ID: id, SeqID: seq, Operation: core.OperationAdd, CollectionID: "c1"}
}

func sizes(out PartitionOutput) []int {
	s := make([]int, 0, len(out.Partitions))
	for _, p := range out.Partitions {
		s = append(s, p.Len())
	}
	sort.Ints(s)
	return s
}

func TestPartitionOperator(t *testing.T) {
	data := []*core.EmbeddingRecord{rec("embedding_id_1", 1), rec("embedding_id_2", 2), rec("embedding_id_1", 3)}
	op := PartitionOperator{}

	testCases := []struct {
		name      string
		threshold int
		expected  []int
	}{
		{"threshold larger than batch", 4, []int{3}},
		{"threshold equal to batch", 3, []int{3}},
		{"threshold smaller than batch", 2, []int{1, 2}},
		{"threshold of one", 1, []int{1, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := op.Run(context.Background(), PartitionInput{Records: NewDataChunk(data), MaxPartitionSize: tc.threshold})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sizes(out))
			for _, p := range out.Partitions {
				assert.Equal(t, len(data), p.TotalLen(), "partitions must share the input batch")
			}
		})
	}

	t.Run("empty input", func(t *testing.T) {
		out, err := op.Run(context.Background(), PartitionInput{Records: NewDataChunk(nil), MaxPartitionSize: 2})
		require.NoError(t, err)
		assert.Empty(t, out.Partitions)
	})

	t.Run("respects input visibility", func(t *testing.T) {
		chunk := NewDataChunk(data).WithVisibility(roaring.BitmapOf(1))
		out, err := op.Run(context.Background(), PartitionInput{Records: chunk, MaxPartitionSize: 1})
		require.NoError(t, err)
		require.Len(t, out.Partitions, 1)
		assert.Equal(t, []int{1}, out.Partitions[0].VisibleIndices())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := op.Run(ctx, PartitionInput{Records: NewDataChunk(data), MaxPartitionSize: 1})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPartitionOperator_KeyGroupsAreNeverSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	op := PartitionOperator{}
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(200)
		keys := 1 + rng.Intn(40)
		data := make([]*core.EmbeddingRecord, n)
		for i := range data {
			data[i] = rec(fmt.Sprintf("k%d", rng.Intn(keys)), int64(i))
		}
		threshold := rng.Intn(60)

		out, err := op.Run(context.Background(), PartitionInput{Records: NewDataChunk(data), MaxPartitionSize: threshold})
		require.NoError(t, err)

		owner := map[string]int{}
		seen := map[int]bool{}
		for pi, p := range out.Partitions {
			p.Iterate(func(idx int, r *core.EmbeddingRecord) bool {
				if prev, ok := owner[r.ID]; ok {
					require.Equal(t, prev, pi, "key %s split across partitions", r.ID)
				}
				owner[r.ID] = pi
				require.False(t, seen[idx], "index %d emitted twice", idx)
				seen[idx] = true
				return true
			})
		}
		require.Len(t, seen, n, "union of partitions must cover the input")
	}
}

func TestDeterminePartitionSize(t *testing.T) {
	assert.Equal(t, 3, DeterminePartitionSize(3, 10))
	assert.Equal(t, 10, DeterminePartitionSize(30, 10))
	assert.Equal(t, 1, DeterminePartitionSize(30, 0))
	assert.Equal(t, 0, DeterminePartitionSize(0, 5))
}

func TestDataChunk(t *testing.T) {
	data := []*core.EmbeddingRecord{rec("a", 1), rec("b", 2), rec("c", 3)}
	all := NewDataChunk(data)
	assert.Equal(t, 3, all.Len())
	assert.Equal(t, []int{0, 1, 2}, all.VisibleIndices())

	view := all.WithVisibility(roaring.BitmapOf(0, 2))
	assert.Equal(t, 2, view.Len())
	assert.Equal(t, 3, view.TotalLen())
	_, ok := view.Get(1)
	assert.False(t, ok)
	r, ok := view.Get(2)
	require.True(t, ok)
	assert.Same(t, data[2], r, "views must not copy records")
	assert.Equal(t, []string{"a", "c"}, core.IDs(view.Records()))

	var first []int
	view.Iterate(func(i int, _ *core.EmbeddingRecord) bool {
		first = append(first, i)
		return false
	})
	assert.Equal(t, []int{0}, first)
}
