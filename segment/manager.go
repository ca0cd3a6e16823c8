// Package segment applies compacted records to durable segment storage.
package segment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Ishiihara/chroma/compressors"
	"github.com/Ishiihara/chroma/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	ErrClosed    = errors.New("segment: manager closed")
	ErrDirLocked = errors.New("segment: data directory locked by another process")
)

// Manager is the write surface compaction drives. Implementations must be
// safe for concurrent use.
type Manager interface {
	WriteRecord(ctx context.Context, rec *core.EmbeddingRecord) error
	Flush(ctx context.Context, collectionID string) error
}

// LocalManagerParams groups parameters for NewLocalManager.
type LocalManagerParams struct {
	Dir         string
	Compression core.CompressionType
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Metrics     *Metrics
}

// LocalManager buffers records per collection and persists them as block
// files on Flush. A directory is owned by at most one manager at a time.
type LocalManager struct {
	dir        string
	compressor core.Compressor
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	release    func() error

	mu        sync.Mutex
	pending   map[string][]*core.EmbeddingRecord
	nextBlock map[string]uint64
	closed    bool
}

var _ Manager = (*LocalManager)(nil)

// NewLocalManager opens (creating if needed) a segment directory.
func NewLocalManager(params LocalManagerParams) (*LocalManager, error) {
	if params.Dir == "" {
		return nil, errors.New("segment: data dir is required")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewMetrics("")
	}
	compressor, err := compressors.ForType(params.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(params.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: create data dir: %w", err)
	}
	release, err := lockDir(filepath.Join(params.Dir, core.LockFileName))
	if err != nil {
		return nil, err
	}
	m := &LocalManager{
		dir:        params.Dir,
		compressor: compressor,
		logger:     logger.With("component", "SegmentManager"),
		tracer:     tracer,
		metrics:    metrics,
		release:    release,
		pending:    make(map[string][]*core.EmbeddingRecord),
		nextBlock:  make(map[string]uint64),
	}
	if err := m.loadBlockIndexes(); err != nil {
		_ = release()
		return nil, err
	}
	m.logger.Info("Segment manager opened.", "dir", params.Dir, "compression", compressor.Type().String())
	return m, nil
}

func (m *LocalManager) loadBlockIndexes() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("segment: list data dir: %w", err)
	}
	for _, e := range entries {
		coll, idx, err := core.ParseSegmentFileName(e.Name())
		if err != nil {
			continue
		}
		if idx >= m.nextBlock[coll] {
			m.nextBlock[coll] = idx + 1
		}
	}
	return nil
}

// WriteRecord buffers a copy of rec until the next Flush of its collection.
func (m *LocalManager) WriteRecord(ctx context.Context, rec *core.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending[rec.CollectionID] = append(m.pending[rec.CollectionID], rec.Clone())
	m.metrics.RecordsWritten.Add(1)
	return nil
}

// Pending returns the number of buffered records for collectionID.
func (m *LocalManager) Pending(collectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[collectionID])
}

// PendingCollections lists collections with buffered records.
func (m *LocalManager) PendingCollections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for id, recs := range m.pending {
		if len(recs) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Flush persists the buffered records of collectionID as one block file.
// Flushing a collection with nothing buffered is a no-op. On failure the
// records stay buffered so the flush can be retried.
func (m *LocalManager) Flush(ctx context.Context, collectionID string) (err error) {
	_, span := m.tracer.Start(ctx, "SegmentManager.Flush")
	defer span.End()
	span.SetAttributes(attribute.String("collection_id", collectionID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "flush failed")
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	records := m.pending[collectionID]
	if len(records) == 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.pending, collectionID)
	idx := m.nextBlock[collectionID]
	m.nextBlock[collectionID] = idx + 1
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("records", len(records)))
	name := core.FormatSegmentFileName(collectionID, idx)
	if err := m.writeBlockFile(name, records); err != nil {
		m.mu.Lock()
		m.pending[collectionID] = append(records, m.pending[collectionID]...)
		m.mu.Unlock()
		m.metrics.FlushErrors.Add(1)
		m.logger.Error("Failed to flush segment block.", "collection_id", collectionID, "file", name, "error", err)
		return err
	}
	m.metrics.Flushes.Add(1)
	m.logger.Debug("Flushed segment block.", "collection_id", collectionID, "file", name, "records", len(records))
	return nil
}

func (m *LocalManager) writeBlockFile(name string, records []*core.EmbeddingRecord) error {
	tmp, err := os.CreateTemp(m.dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("segment: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	w := bufio.NewWriter(tmp)
	if err := encodeBlock(w, m.compressor, records); err != nil {
		cleanup()
		return err
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("segment: flush writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("segment: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("segment: close: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(m.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("segment: rename: %w", err)
	}
	return nil
}

// ReadBlocks decodes every persisted block of collectionID in block order.
func (m *LocalManager) ReadBlocks(collectionID string) ([]*core.EmbeddingRecord, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	type block struct {
		idx  uint64
		name string
	}
	var blocks []block
	for _, e := range entries {
		coll, idx, err := core.ParseSegmentFileName(e.Name())
		if err != nil || coll != collectionID {
			continue
		}
		blocks = append(blocks, block{idx: idx, name: e.Name()})
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].idx < blocks[j].idx })

	var out []*core.EmbeddingRecord
	for _, b := range blocks {
		f, err := os.Open(filepath.Join(m.dir, b.name))
		if err != nil {
			return nil, err
		}
		_, recs, err := decodeBlock(bufio.NewReader(f))
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.name, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Close releases the directory lock. Buffered records that were never
// flushed are dropped.
func (m *LocalManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if n := len(m.pending); n > 0 {
		m.logger.Warn("Closing segment manager with unflushed collections.", "collections", n)
	}
	return m.release()
}
