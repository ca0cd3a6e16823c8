package compressors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Ishiihara/chroma/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor writes LZ4 blocks prefixed with the uvarint length of the
// uncompressed payload, so decoding needs no size guess.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}

// CompressTo compresses src data into the dst buffer using LZ4.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	var hdr [binary.MaxVarintLen64]byte
	dst.Write(hdr[:binary.PutUvarint(hdr[:], uint64(len(src)))])
	if len(src) == 0 {
		return nil
	}
	tmp := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, tmp, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 {
		// incompressible input: CompressBlock reports 0, store it raw
		dst.WriteByte(0)
		dst.Write(src)
		return nil
	}
	dst.WriteByte(1)
	dst.Write(tmp[:n])
	return nil
}

func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errors.New("lz4: invalid length prefix")
	}
	data = data[n:]
	if size == 0 {
		return []byte{}, nil
	}
	if len(data) == 0 {
		return nil, errors.New("lz4: missing block")
	}
	mode, body := data[0], data[1:]
	if mode == 0 {
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("lz4: raw block length %d, want %d", len(body), size)
		}
		return append([]byte(nil), body...), nil
	}
	out := make([]byte, size)
	m, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if uint64(m) != size {
		return nil, fmt.Errorf("lz4: decoded %d bytes, want %d", m, size)
	}
	return out, nil
}
