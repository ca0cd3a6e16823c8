package core

import (
	"fmt"
	"strconv"
	"strings"
)

// This file centralizes constants related to on-disk formats used by the
// bundled segment manager.

const (
	// SegmentMagicNumber identifies a segment block file.
	SegmentMagicNumber uint32 = 0x43534547 // "CSEG"
	// FormatVersion is the current block file version.
	FormatVersion uint8 = 1
)

const (
	// LockFileName is the advisory lock guarding a segment data directory.
	LockFileName = "LOCK"
	// SegmentFilePrefix is the prefix for block files, e.g. seg_<collection>_00000001.blk
	SegmentFilePrefix = "seg_"
	// SegmentFileSuffix is the suffix for block files.
	SegmentFileSuffix = ".blk"
)

// FormatSegmentFileName creates a block file name from the collection and
// its block index.
func FormatSegmentFileName(collectionID string, index uint64) string {
	return fmt.Sprintf("%s%s_%08d%s", SegmentFilePrefix, collectionID, index, SegmentFileSuffix)
}

// ParseSegmentFileName extracts the collection and block index from a block
// file name.
func ParseSegmentFileName(name string) (string, uint64, error) {
	if !strings.HasPrefix(name, SegmentFilePrefix) || !strings.HasSuffix(name, SegmentFileSuffix) {
		return "", 0, fmt.Errorf("file %s is not a segment block file", name)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, SegmentFilePrefix), SegmentFileSuffix)
	sep := strings.LastIndexByte(body, '_')
	if sep <= 0 {
		return "", 0, fmt.Errorf("file %s has no block index", name)
	}
	idx, err := strconv.ParseUint(body[sep+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("file %s: %w", name, err)
	}
	return body[:sep], idx, nil
}
