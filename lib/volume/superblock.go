// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bureau-foundation/flatvol/lib/codec"
)

const (
	// magic identifies a flatvol volume file. The trailing digit is
	// not the format version (that is a superblock field); it only
	// disambiguates from any future incompatible rewrite of the
	// container itself.
	magic = "flatvol1"

	// formatVersion is the on-disk format version. Open refuses
	// volumes with a different version.
	formatVersion = 1

	// headerSize is the fixed byte length of the header region. The
	// encoded superblock frame must fit it; the remainder is zero.
	headerSize = 4096

	// DefaultBlockSize is the block size for new volumes when the
	// caller does not choose one.
	DefaultBlockSize = 4096

	// DefaultTotalBlocks gives new volumes a 1 MiB data region at
	// the default block size.
	DefaultTotalBlocks = 256

	// DefaultMetaBlocks is the default size of the inode table
	// region, in blocks.
	DefaultMetaBlocks = 16
)

// superblock is the volume's self-describing header. It is encoded
// as CBOR and checksummed, and is immutable after volume creation.
type superblock struct {
	Magic       string         `json:"magic"`
	Version     uint32         `json:"version"`
	BlockSize   uint32         `json:"block_size"`
	TotalBlocks uint32         `json:"total_blocks"`
	MetaBlocks  uint32         `json:"meta_blocks"`
	Compression CompressionTag `json:"compression"`
	CreatedAt   time.Time      `json:"created_at"`
}

// layout holds the byte offsets of each on-disk region, derived from
// the superblock geometry.
type layout struct {
	bitmapOffset int64
	bitmapLen    int64 // raw bitmap bytes plus checksum
	metaOffset   int64
	metaLen      int64
	dataOffset   int64
	fileSize     int64
}

func computeLayout(sb *superblock) layout {
	bitmapLen := int64(bitmapBytes(sb.TotalBlocks)) + checksumSize
	metaOffset := int64(headerSize) + bitmapLen
	metaLen := int64(sb.MetaBlocks) * int64(sb.BlockSize)
	dataOffset := metaOffset + metaLen
	return layout{
		bitmapOffset: headerSize,
		bitmapLen:    bitmapLen,
		metaOffset:   metaOffset,
		metaLen:      metaLen,
		dataOffset:   dataOffset,
		fileSize:     dataOffset + int64(sb.TotalBlocks)*int64(sb.BlockSize),
	}
}

// encodeSuperblock renders the header region: a 4-byte big-endian
// length, the CBOR superblock, and a keyed checksum over the CBOR
// bytes, zero-padded to headerSize.
func encodeSuperblock(sb *superblock) ([]byte, error) {
	blob, err := codec.Marshal(sb)
	if err != nil {
		return nil, fmt.Errorf("encoding superblock: %w", err)
	}
	if 4+len(blob)+checksumSize > headerSize {
		return nil, fmt.Errorf("encoded superblock is %d bytes, exceeds header region of %d",
			len(blob), headerSize)
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(blob)))
	copy(header[4:], blob)
	sum := keyedSum(superblockDomainKey, blob)
	copy(header[4+len(blob):], sum[:])
	return header, nil
}

// decodeSuperblock parses and validates a header region. Every
// failure maps to ErrCorruptVolume: a header that does not validate
// must never be partially trusted.
func decodeSuperblock(header []byte) (*superblock, error) {
	if len(header) != headerSize {
		return nil, fmt.Errorf("%w: header region is %d bytes, want %d",
			ErrCorruptVolume, len(header), headerSize)
	}

	blobLen := int(binary.BigEndian.Uint32(header[0:4]))
	if blobLen <= 0 || 4+blobLen+checksumSize > headerSize {
		return nil, fmt.Errorf("%w: implausible superblock length %d", ErrCorruptVolume, blobLen)
	}

	blob := header[4 : 4+blobLen]
	want := header[4+blobLen : 4+blobLen+checksumSize]
	sum := keyedSum(superblockDomainKey, blob)
	if !bytes.Equal(sum[:], want) {
		return nil, fmt.Errorf("%w: superblock checksum mismatch", ErrCorruptVolume)
	}

	var sb superblock
	if err := codec.Unmarshal(blob, &sb); err != nil {
		return nil, fmt.Errorf("%w: decoding superblock: %v", ErrCorruptVolume, err)
	}
	if err := validateSuperblock(&sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

func validateSuperblock(sb *superblock) error {
	if sb.Magic != magic {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptVolume, sb.Magic)
	}
	if sb.Version != formatVersion {
		return fmt.Errorf("%w: format version %d, this engine reads version %d",
			ErrCorruptVolume, sb.Version, formatVersion)
	}
	if sb.BlockSize == 0 || sb.TotalBlocks == 0 || sb.MetaBlocks == 0 {
		return fmt.Errorf("%w: zero geometry (block_size=%d total_blocks=%d meta_blocks=%d)",
			ErrCorruptVolume, sb.BlockSize, sb.TotalBlocks, sb.MetaBlocks)
	}
	switch sb.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return fmt.Errorf("%w: unknown compression tag %d", ErrCorruptVolume, sb.Compression)
	}
	return nil
}
