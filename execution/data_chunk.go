package execution

import (
	"github.com/Ishiihara/chroma/core"
	"github.com/RoaringBitmap/roaring"
)

// DataChunk is a view over a shared record batch. A visibility mask selects
// which rows belong to the view; views never copy the records.
type DataChunk struct {
	data       []*core.EmbeddingRecord
	visibility *roaring.Bitmap // nil means every row is visible
}

// NewDataChunk wraps records with every row visible.
func NewDataChunk(records []*core.EmbeddingRecord) *DataChunk {
	return &DataChunk{data: records}
}

// TotalLen is the size of the underlying batch.
func (c *DataChunk) TotalLen() int { return len(c.data) }

// Len is the number of visible rows.
func (c *DataChunk) Len() int {
	if c.visibility == nil {
		return len(c.data)
	}
	return int(c.visibility.GetCardinality())
}

// IsVisible reports whether row i belongs to this view.
func (c *DataChunk) IsVisible(i int) bool {
	if i < 0 || i >= len(c.data) {
		return false
	}
	return c.visibility == nil || c.visibility.Contains(uint32(i))
}

// Get returns row i if it is visible.
func (c *DataChunk) Get(i int) (*core.EmbeddingRecord, bool) {
	if !c.IsVisible(i) {
		return nil, false
	}
	return c.data[i], true
}

// Iterate calls fn for each visible row in index order until fn returns false.
func (c *DataChunk) Iterate(fn func(idx int, rec *core.EmbeddingRecord) bool) {
	if c.visibility == nil {
		for i, r := range c.data {
			if !fn(i, r) {
				return
			}
		}
		return
	}
	it := c.visibility.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if i >= len(c.data) {
			return
		}
		if !fn(i, c.data[i]) {
			return
		}
	}
}

// WithVisibility returns a view sharing this chunk's batch with a new mask.
// The mask is owned by the returned chunk.
func (c *DataChunk) WithVisibility(mask *roaring.Bitmap) *DataChunk {
	return &DataChunk{data: c.data, visibility: mask}
}

// VisibleIndices lists the visible row indices in ascending order.
func (c *DataChunk) VisibleIndices() []int {
	out := make([]int, 0, c.Len())
	c.Iterate(func(i int, _ *core.EmbeddingRecord) bool {
		out = append(out, i)
		return true
	})
	return out
}

// Records returns the visible records. The records are shared, only the
// slice is new.
func (c *DataChunk) Records() []*core.EmbeddingRecord {
	out := make([]*core.EmbeddingRecord, 0, c.Len())
	c.Iterate(func(_ int, r *core.EmbeddingRecord) bool {
		out = append(out, r)
		return true
	})
	return out
}
