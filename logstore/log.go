// Package logstore holds the append-only record log the worker compacts from.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/Ishiihara/chroma/core"
	"github.com/INLOpen/skiplist"
)

// ErrCollectionNotFound is returned when reading a collection the log has
// never seen.
var ErrCollectionNotFound = fmt.Errorf("log: %w", core.ErrCollectionNotFound)

// Log is the read side used by compaction.
type Log interface {
	// Read returns up to batchSize records of collectionID whose offset is
	// at least offset, in offset order.
	Read(ctx context.Context, collectionID string, offset int64, batchSize int) ([]*core.EmbeddingRecord, error)
}

// CollectionRecord describes a collection present in the log.
type CollectionRecord struct {
	ID           string
	TenantID     string
	LatestOffset int64
}

type collectionLog struct {
	tenantID string
	data     *skiplist.SkipList[int64, *core.EmbeddingRecord]
	next     int64
}

// InMemoryLog keeps one offset-ordered skiplist per collection. Offsets start
// at 0 and are assigned on Push.
type InMemoryLog struct {
	mu          sync.RWMutex
	collections map[string]*collectionLog
	logger      *slog.Logger
}

var _ Log = (*InMemoryLog)(nil)

func NewInMemoryLog(logger *slog.Logger) *InMemoryLog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &InMemoryLog{
		collections: make(map[string]*collectionLog),
		logger:      logger.With("component", "InMemoryLog"),
	}
}

func compareOffset(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Push appends a copy of rec to its collection's log and returns the offset
// it was stored at. The stored copy's SeqID is the offset.
func (l *InMemoryLog) Push(ctx context.Context, tenantID string, rec *core.EmbeddingRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := core.ValidateRecord(rec); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.collections[rec.CollectionID]
	if !ok {
		cl = &collectionLog{
			tenantID: tenantID,
			data:     skiplist.NewWithComparator[int64, *core.EmbeddingRecord](compareOffset),
		}
		l.collections[rec.CollectionID] = cl
		l.logger.Debug("New collection in log.", "collection_id", rec.CollectionID, "tenant_id", tenantID)
	}
	offset := cl.next
	stored := rec.Clone()
	stored.SeqID = offset
	cl.data.Insert(offset, stored)
	cl.next++
	return offset, nil
}

func (l *InMemoryLog) Read(ctx context.Context, collectionID string, offset int64, batchSize int) ([]*core.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, errors.New("log: batch size must be positive")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	cl, ok := l.collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}
	out := make([]*core.EmbeddingRecord, 0, min(batchSize, cl.data.Len()))
	it := cl.data.NewIterator()
	for ok := it.Seek(offset); ok && len(out) < batchSize; ok = it.Next() {
		if it.Key() < offset {
			continue
		}
		out = append(out, it.Value())
	}
	return out, nil
}

// LatestOffset returns the highest offset written for collectionID, or -1
// for an empty collection.
func (l *InMemoryLog) LatestOffset(collectionID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cl, ok := l.collections[collectionID]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}
	return cl.next - 1, nil
}

// Collections lists every collection with at least one record, sorted by ID.
func (l *InMemoryLog) Collections() []CollectionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CollectionRecord, 0, len(l.collections))
	for id, cl := range l.collections {
		out = append(out, CollectionRecord{ID: id, TenantID: cl.tenantID, LatestOffset: cl.next - 1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
