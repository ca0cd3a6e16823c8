package core

import (
	"encoding/binary"
	"time"
)

// FileHeader is the fixed-size header at the start of every segment block
// file. Checksum is the CRC32 (Castagnoli) of the payload that follows.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CompressorType CompressionType
	CreatedAt      int64 // UnixNano timestamp
	Count          uint32
	PayloadLen     uint32
	Checksum       uint32
}

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

// NewFileHeader creates a new header with the current time and specified magic number.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}
