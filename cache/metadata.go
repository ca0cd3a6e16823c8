package cache

import (
	"context"
	"io"
	"log/slog"

	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/sysdb"
)

// MetadataCache resolves collections and segments through cache managers,
// falling back to the catalog on a miss. Catalog errors and ambiguous
// results are reported as absent.
type MetadataCache struct {
	collections *Client[string, core.Collection]
	segments    *Client[string, core.Segment]
	sysdb       sysdb.SysDB
	logger      *slog.Logger
}

func NewMetadataCache(collections *Client[string, core.Collection], segments *Client[string, core.Segment], db sysdb.SysDB, logger *slog.Logger) *MetadataCache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MetadataCache{collections: collections, segments: segments, sysdb: db, logger: logger.With("component", "MetadataCache")}
}

// GetCollection returns the collection with id, if the catalog has exactly one.
func (m *MetadataCache) GetCollection(ctx context.Context, id string) (core.Collection, bool) {
	if c, ok, err := m.collections.Get(ctx, id); err == nil && ok {
		return c, true
	}
	found, err := m.sysdb.GetCollections(ctx, sysdb.CollectionFilter{ID: id})
	if err != nil {
		m.logger.Warn("Collection lookup failed.", "collection_id", id, "error", err)
		return core.Collection{}, false
	}
	if len(found) != 1 {
		return core.Collection{}, false
	}
	if err := m.collections.Insert(ctx, id, found[0]); err != nil {
		m.logger.Debug("Could not cache collection.", "collection_id", id, "error", err)
	}
	return found[0], true
}

// GetSegment returns the segment with id, if the catalog has exactly one.
func (m *MetadataCache) GetSegment(ctx context.Context, id string) (core.Segment, bool) {
	if s, ok, err := m.segments.Get(ctx, id); err == nil && ok {
		return s, true
	}
	found, err := m.sysdb.GetSegments(ctx, sysdb.SegmentFilter{ID: id})
	if err != nil {
		m.logger.Warn("Segment lookup failed.", "segment_id", id, "error", err)
		return core.Segment{}, false
	}
	if len(found) != 1 {
		return core.Segment{}, false
	}
	if err := m.segments.Insert(ctx, id, found[0]); err != nil {
		m.logger.Debug("Could not cache segment.", "segment_id", id, "error", err)
	}
	return found[0], true
}
