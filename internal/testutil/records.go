package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/Ishiihara/chroma/core"
	"github.com/stretchr/testify/mock"
)

// Record builds an upsert record with a one-dimensional embedding.
func Record(collectionID, id string, value float32) *core.EmbeddingRecord {
	return &core.EmbeddingRecord{
		ID:           id,
		Embedding:    []float32{value},
		Metadata:     map[string]any{"v": fmt.Sprintf("%g", value)},
		Operation:    core.OperationUpsert,
		CollectionID: collectionID,
	}
}

// Records builds one record per id, with SeqIDs in input order.
func Records(collectionID string, ids ...string) []*core.EmbeddingRecord {
	out := make([]*core.EmbeddingRecord, len(ids))
	for i, id := range ids {
		out[i] = Record(collectionID, id, float32(i))
		out[i].SeqID = int64(i)
	}
	return out
}

// IDSet returns the set of record IDs.
func IDSet(records []*core.EmbeddingRecord) map[string]int {
	out := make(map[string]int, len(records))
	for _, r := range records {
		out[r.ID]++
	}
	return out
}

// Pusher is the write side of a log.
type Pusher interface {
	Push(ctx context.Context, tenantID string, rec *core.EmbeddingRecord) (int64, error)
}

// Fill pushes records to the log and fails the test on error.
func Fill(t testing.TB, log Pusher, tenantID string, records []*core.EmbeddingRecord) {
	t.Helper()
	for _, r := range records {
		if _, err := log.Push(context.Background(), tenantID, r); err != nil {
			t.Fatalf("push %s: %v", r.ID, err)
		}
	}
}

// MockLog is a testify mock of logstore.Log.
type MockLog struct {
	mock.Mock
}

func (m *MockLog) Read(ctx context.Context, collectionID string, offset int64, batchSize int) ([]*core.EmbeddingRecord, error) {
	args := m.Called(ctx, collectionID, offset, batchSize)
	recs, _ := args.Get(0).([]*core.EmbeddingRecord)
	return recs, args.Error(1)
}

// MockSegments is a testify mock of segment.Manager.
type MockSegments struct {
	mock.Mock
}

func (m *MockSegments) WriteRecord(ctx context.Context, rec *core.EmbeddingRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSegments) Flush(ctx context.Context, collectionID string) error {
	return m.Called(ctx, collectionID).Error(0)
}
