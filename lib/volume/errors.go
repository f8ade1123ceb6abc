// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import "errors"

// Sentinel errors returned by the engine. Underlying storage faults
// (pwrite failures, page faults on the memory map) are wrapped with
// %w and surface through errors.Is/As on the chain instead of having
// a sentinel here.
var (
	// ErrVolumeExists is returned by Create when a file already
	// exists at the volume path.
	ErrVolumeExists = errors.New("volume: volume already exists")

	// ErrCorruptVolume is returned by Open when the superblock or
	// bitmap is damaged, the magic or format version is wrong, or
	// the file size disagrees with the recorded geometry.
	ErrCorruptVolume = errors.New("volume: corrupt or incompatible volume")

	// ErrCorruptMetadata is returned by Open when the inode table
	// region fails its checksum, decompression, or decode.
	ErrCorruptMetadata = errors.New("volume: corrupt inode table")

	// ErrNoSpace is returned by block allocation when every data
	// block is in use.
	ErrNoSpace = errors.New("volume: no free blocks")

	// ErrInvalidBlock is returned for a block index that is out of
	// range, for freeing a block that is already free, and for
	// writing a block that was never allocated.
	ErrInvalidBlock = errors.New("volume: invalid block index")

	// ErrBufferTooLarge is returned by WriteBlock when the buffer
	// exceeds the volume's block size.
	ErrBufferTooLarge = errors.New("volume: buffer exceeds block size")

	// ErrDuplicateName is returned by CreateFile when the name is
	// already present.
	ErrDuplicateName = errors.New("volume: file already exists")

	// ErrFileNotFound is returned by operations on a name that is
	// not in the inode table.
	ErrFileNotFound = errors.New("volume: no such file")

	// ErrInvalidName is returned for empty names and names
	// containing '/' or NUL. The namespace is flat.
	ErrInvalidName = errors.New("volume: invalid file name")

	// ErrMetadataFull is returned when the encoded inode table no
	// longer fits the reserved metadata region. The region size is
	// fixed at volume creation.
	ErrMetadataFull = errors.New("volume: inode table region full")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("volume: engine is closed")
)
