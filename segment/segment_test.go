package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ishiihara/chroma/compressors"
	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, dir string, ct core.CompressionType) *LocalManager {
	t.Helper()
	m, err := NewLocalManager(LocalManagerParams{Dir: dir, Compression: ct})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func records(collection string, n int) []*core.EmbeddingRecord {
	out := make([]*core.EmbeddingRecord, n)
	for i := range out {
		out[i] = &core.EmbeddingRecord{
			ID:           fmt.Sprintf("id-%d", i),
			SeqID:        int64(i),
			Embedding:    []float32{float32(i), 0.5},
			Metadata:     map[string]any{"source": "test"},
			Operation:    core.OperationUpsert,
			CollectionID: collection,
		}
	}
	return out
}

func TestLocalManager_WriteFlushRead(t *testing.T) {
	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t, t.TempDir(), ct)

			for _, r := range records("c1", 10) {
				require.NoError(t, m.WriteRecord(ctx, r))
			}
			assert.Equal(t, 10, m.Pending("c1"))
			assert.Equal(t, []string{"c1"}, m.PendingCollections())

			require.NoError(t, m.Flush(ctx, "c1"))
			assert.Zero(t, m.Pending("c1"))
			require.NoError(t, m.Flush(ctx, "c1"), "flushing an empty collection is a no-op")

			for _, r := range records("c1", 3) {
				require.NoError(t, m.WriteRecord(ctx, r))
			}
			require.NoError(t, m.Flush(ctx, "c1"))

			got, err := m.ReadBlocks("c1")
			require.NoError(t, err)
			require.Len(t, got, 13)
			assert.Equal(t, "id-9", got[9].ID)
			assert.Equal(t, "id-0", got[10].ID)
			assert.Equal(t, []float32{9, 0.5}, got[9].Embedding)
			assert.Equal(t, "test", got[0].Metadata["source"])
			assert.Equal(t, core.OperationUpsert, got[0].Operation)
		})
	}
}

func TestLocalManager_DirectoryLock(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, core.CompressionNone)

	_, err := NewLocalManager(LocalManagerParams{Dir: dir})
	assert.ErrorIs(t, err, ErrDirLocked)

	require.NoError(t, m.Close())
	m2, err := NewLocalManager(LocalManagerParams{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, m2.Close())
}

func TestLocalManager_ResumesBlockIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m, err := NewLocalManager(LocalManagerParams{Dir: dir, Compression: core.CompressionSnappy})
	require.NoError(t, err)
	require.NoError(t, m.WriteRecord(ctx, records("c1", 1)[0]))
	require.NoError(t, m.Flush(ctx, "c1"))
	require.NoError(t, m.Close())

	m2 := newManager(t, dir, core.CompressionLZ4)
	require.NoError(t, m2.WriteRecord(ctx, records("c1", 2)[1]))
	require.NoError(t, m2.Flush(ctx, "c1"))

	_, err = os.Stat(filepath.Join(dir, core.FormatSegmentFileName("c1", 1)))
	require.NoError(t, err)
	got, err := m2.ReadBlocks("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0", "id-1"}, core.IDs(got))
}

func TestLocalManager_Errors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir(), core.CompressionNone)

	assert.True(t, core.IsValidationError(m.WriteRecord(ctx, &core.EmbeddingRecord{ID: "x"})))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.WriteRecord(ctx, records("c1", 1)[0]), ErrClosed)
	assert.ErrorIs(t, m.Flush(ctx, "c1"), ErrClosed)

	_, err := NewLocalManager(LocalManagerParams{})
	assert.Error(t, err)
}

func TestDecodeBlock_DetectsCorruption(t *testing.T) {
	c, err := compressors.ForType(core.CompressionSnappy)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, encodeBlock(&buf, c, records("c1", 4)))

	good := buf.Bytes()
	_, recs, err := decodeBlock(bytes.NewReader(good))
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xff
	_, _, err = decodeBlock(bytes.NewReader(corrupt))
	assert.ErrorIs(t, err, ErrBadChecksum)

	badMagic := append([]byte(nil), good...)
	badMagic[0] ^= 0xff
	_, _, err = decodeBlock(bytes.NewReader(badMagic))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestFlusher(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir(), core.CompressionNone)
	for _, r := range append(records("a", 2), records("b", 3)...) {
		require.NoError(t, m.WriteRecord(ctx, r))
	}

	s := system.New(ctx, system.Params{})
	defer func() {
		s.Stop()
		_ = s.Join(ctx)
	}()
	system.Start(s, NewFlusher(m, 5*time.Millisecond, nil))

	require.Eventually(t, func() bool { return len(m.PendingCollections()) == 0 }, 2*time.Second, 5*time.Millisecond)
	got, err := m.ReadBlocks("b")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
