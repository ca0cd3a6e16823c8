package execution

import (
	"context"

	"github.com/Ishiihara/chroma/core"
	"github.com/RoaringBitmap/roaring"
)

// PartitionInput is a batch and the requested partition size.
type PartitionInput struct {
	Records          *DataChunk
	MaxPartitionSize int
}

// PartitionOutput holds the emitted partitions. Every partition shares the
// input batch.
type PartitionOutput struct {
	Partitions []*DataChunk
}

// PartitionOperator splits a batch into views so that all records with the
// same ID land in the same view. A view reaches at least the partition size
// before it is emitted, except the last one, and may exceed it because a
// key group is never split.
type PartitionOperator struct{}

var _ Operator[PartitionInput, PartitionOutput] = PartitionOperator{}

// DeterminePartitionSize clamps the requested threshold to the batch size.
func DeterminePartitionSize(numRecords, threshold int) int {
	if threshold < 1 {
		threshold = 1
	}
	if numRecords < threshold {
		return numRecords
	}
	return threshold
}

// Run partitions input.Records. Key groups are visited in order of first
// appearance.
func (PartitionOperator) Run(ctx context.Context, input PartitionInput) (PartitionOutput, error) {
	chunk := input.Records
	if chunk == nil || chunk.Len() == 0 {
		return PartitionOutput{}, nil
	}
	size := DeterminePartitionSize(chunk.Len(), input.MaxPartitionSize)

	groups := make(map[string][]uint32)
	var order []string
	chunk.Iterate(func(i int, r *core.EmbeddingRecord) bool {
		if _, ok := groups[r.ID]; !ok {
			order = append(order, r.ID)
		}
		groups[r.ID] = append(groups[r.ID], uint32(i))
		return true
	})

	var (
		out   PartitionOutput
		mask  = roaring.New()
		count int
	)
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return PartitionOutput{}, err
		}
		idx := groups[key]
		mask.AddMany(idx)
		count += len(idx)
		if count >= size {
			out.Partitions = append(out.Partitions, chunk.WithVisibility(mask))
			mask = roaring.New()
			count = 0
		}
	}
	if count > 0 {
		out.Partitions = append(out.Partitions, chunk.WithVisibility(mask))
	}
	return out, nil
}
