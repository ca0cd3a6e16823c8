package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Ishiihara/chroma/compressors"
	"github.com/Ishiihara/chroma/core"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrBadMagic    = errors.New("segment: bad magic number")
	ErrBadChecksum = errors.New("segment: checksum mismatch")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// blockRecord is the persisted form of a core.EmbeddingRecord.
type blockRecord struct {
	ID           string         `msgpack:"id"`
	SeqID        int64          `msgpack:"seq_id"`
	Embedding    []float32      `msgpack:"embedding,omitempty"`
	Encoding     string         `msgpack:"encoding,omitempty"`
	Metadata     map[string]any `msgpack:"metadata,omitempty"`
	Operation    uint8          `msgpack:"op"`
	CollectionID string         `msgpack:"collection_id"`
}

func toBlock(r *core.EmbeddingRecord) blockRecord {
	return blockRecord{
		ID:           r.ID,
		SeqID:        r.SeqID,
		Embedding:    r.Embedding,
		Encoding:     r.Encoding,
		Metadata:     r.Metadata,
		Operation:    uint8(r.Operation),
		CollectionID: r.CollectionID,
	}
}

func (b blockRecord) record() *core.EmbeddingRecord {
	return &core.EmbeddingRecord{
		ID:           b.ID,
		SeqID:        b.SeqID,
		Embedding:    b.Embedding,
		Encoding:     b.Encoding,
		Metadata:     b.Metadata,
		Operation:    core.Operation(b.Operation),
		CollectionID: b.CollectionID,
	}
}

// encodeBlock writes header and compressed payload for records to w.
func encodeBlock(w io.Writer, c core.Compressor, records []*core.EmbeddingRecord) error {
	rows := make([]blockRecord, len(records))
	for i, r := range records {
		rows[i] = toBlock(r)
	}
	raw, err := msgpack.Marshal(rows)
	if err != nil {
		return fmt.Errorf("segment: encode records: %w", err)
	}
	var payload bytes.Buffer
	if err := c.CompressTo(&payload, raw); err != nil {
		return fmt.Errorf("segment: compress block: %w", err)
	}

	hdr := core.NewFileHeader(core.SegmentMagicNumber, c.Type())
	hdr.Count = uint32(len(records))
	hdr.PayloadLen = uint32(payload.Len())
	hdr.Checksum = crc32.Checksum(payload.Bytes(), crcTable)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("segment: write header: %w", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("segment: write payload: %w", err)
	}
	return nil
}

// decodeBlock reads one block written by encodeBlock.
func decodeBlock(r io.Reader) (core.FileHeader, []*core.EmbeddingRecord, error) {
	var hdr core.FileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("segment: read header: %w", err)
	}
	if hdr.Magic != core.SegmentMagicNumber {
		return hdr, nil, ErrBadMagic
	}
	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return hdr, nil, fmt.Errorf("segment: read payload: %w", err)
	}
	if crc32.Checksum(payload, crcTable) != hdr.Checksum {
		return hdr, nil, ErrBadChecksum
	}
	c, err := compressors.ForType(hdr.CompressorType)
	if err != nil {
		return hdr, nil, err
	}
	raw, err := c.Decompress(payload)
	if err != nil {
		return hdr, nil, err
	}
	var rows []blockRecord
	if err := msgpack.Unmarshal(raw, &rows); err != nil {
		return hdr, nil, fmt.Errorf("segment: decode records: %w", err)
	}
	if uint32(len(rows)) != hdr.Count {
		return hdr, nil, fmt.Errorf("segment: block has %d records, header says %d", len(rows), hdr.Count)
	}
	out := make([]*core.EmbeddingRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return hdr, out, nil
}
