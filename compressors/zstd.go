package compressors

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/Ishiihara/chroma/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements core.Compressor with pooled zstd coders.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	c := &ZstdCompressor{}
	c.encoderPool.New = func() any {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		return enc
	}
	c.decoderPool.New = func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256*1024*1024))
		if err != nil {
			return err
		}
		return dec
	}
	return c
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

// CompressTo compresses src data into the dst buffer using ZSTD.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	v := c.encoderPool.Get()
	enc, ok := v.(*zstd.Encoder)
	if !ok {
		return fmt.Errorf("zstd encoder init error: %v", v)
	}
	defer c.encoderPool.Put(enc)

	dst.Reset()
	dst.Write(enc.EncodeAll(src, make([]byte, 0, len(src)/2+16)))
	return nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	v := c.decoderPool.Get()
	dec, ok := v.(*zstd.Decoder)
	if !ok {
		return nil, fmt.Errorf("zstd decoder init error: %v", v)
	}
	defer c.decoderPool.Put(dec)

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
