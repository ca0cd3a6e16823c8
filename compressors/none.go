package compressors

import (
	"bytes"

	"github.com/Ishiihara/chroma/core"
)

// NoCompressionCompressor stores blocks as-is.
type NoCompressionCompressor struct{}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func NewNoCompressionCompressor() *NoCompressionCompressor {
	return &NoCompressionCompressor{}
}

func (c *NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Write(src)
	return nil
}

func (c *NoCompressionCompressor) Decompress(data []byte) ([]byte, error) {
	return append([]byte{}, data...), nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}
