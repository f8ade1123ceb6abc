// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/flatvol/lib/clock"
)

// Options configures a volume at creation or open time. The zero
// value is usable: every field has a default.
type Options struct {
	// BlockSize is the allocation granularity in bytes. Fixed at
	// volume creation; ignored by Open (the superblock wins).
	// Default 4096.
	BlockSize uint32

	// TotalBlocks is the data-region block count. Fixed at volume
	// creation; ignored by Open. Default 256 (a 1 MiB data region
	// at the default block size).
	TotalBlocks uint32

	// MetaBlocks is the size of the reserved inode table region in
	// blocks. Fixed at volume creation; ignored by Open. Default 16.
	MetaBlocks uint32

	// Compression selects the algorithm for the persisted inode
	// table. Fixed at volume creation; ignored by Open. Default
	// zstd.
	Compression CompressionTag

	// Clock supplies inode timestamps. Default: the system clock.
	Clock clock.Clock

	// Logger receives structured operation logs. Default:
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.TotalBlocks == 0 {
		o.TotalBlocks = DefaultTotalBlocks
	}
	if o.MetaBlocks == 0 {
		o.MetaBlocks = DefaultMetaBlocks
	}
	if o.Compression == 0 {
		o.Compression = CompressionZstd
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// FileInfo is the snapshot returned by ListFiles and Stat.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	BlockCount int       `json:"block_count"`
}

// Engine composes the BlockStore and InodeTable into file-level
// operations. It is the only component that calls both: the table
// reports freed blocks, the engine returns them to the store.
//
// The Engine owns its Device exclusively. An internal mutex
// serializes operations so accidental concurrent calls cannot
// corrupt the (bitmap, inode table) pair, but it does not guard
// against a second process opening the same file — that exclusion is
// the caller's responsibility.
type Engine struct {
	mu     sync.Mutex
	path   string
	device *Device
	sb     *superblock
	blocks *BlockStore
	inodes *InodeTable
	logger *slog.Logger
	closed bool
}

// Create initializes a new volume at path: zero-filled backing file,
// all-free bitmap, empty inode table. Fails with ErrVolumeExists if
// a file is already present.
func Create(path string, opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	sb := &superblock{
		Magic:       magic,
		Version:     formatVersion,
		BlockSize:   opts.BlockSize,
		TotalBlocks: opts.TotalBlocks,
		MetaBlocks:  opts.MetaBlocks,
		Compression: opts.Compression,
		CreatedAt:   opts.Clock.Now(),
	}
	lo := computeLayout(sb)

	device, err := CreateDevice(path, lo.fileSize)
	if err != nil {
		return nil, err
	}

	header, err := encodeSuperblock(sb)
	if err != nil {
		device.Close()
		return nil, err
	}
	if _, err := device.WriteAt(header, 0); err != nil {
		device.Close()
		return nil, fmt.Errorf("writing superblock: %w", err)
	}

	blocks, err := newBlockStore(device, sb, lo)
	if err != nil {
		device.Close()
		return nil, err
	}
	inodes, err := newInodeTable(device, sb, lo, opts.Clock)
	if err != nil {
		device.Close()
		return nil, err
	}

	opts.Logger.Info("volume created",
		"path", path,
		"block_size", sb.BlockSize,
		"total_blocks", sb.TotalBlocks,
		"meta_blocks", sb.MetaBlocks,
		"compression", sb.Compression.String())

	return &Engine{
		path:   path,
		device: device,
		sb:     sb,
		blocks: blocks,
		inodes: inodes,
		logger: opts.Logger,
	}, nil
}

// Open loads an existing volume, validating the superblock, the file
// geometry, the bitmap, and the inode table. Geometry options in
// opts are ignored; the superblock is authoritative.
func Open(path string, opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	device, err := OpenDevice(path)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	if _, err := device.ReadAt(header, 0); err != nil {
		device.Close()
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptVolume, err)
	}
	sb, err := decodeSuperblock(header)
	if err != nil {
		device.Close()
		return nil, err
	}

	lo := computeLayout(sb)
	if device.Size() != lo.fileSize {
		device.Close()
		return nil, fmt.Errorf("%w: file is %d bytes, geometry requires %d",
			ErrCorruptVolume, device.Size(), lo.fileSize)
	}

	blocks, err := loadBlockStore(device, sb, lo)
	if err != nil {
		device.Close()
		return nil, err
	}
	inodes, err := loadInodeTable(device, sb, lo, opts.Clock)
	if err != nil {
		device.Close()
		return nil, err
	}
	if err := checkBlockOwnership(blocks, inodes); err != nil {
		device.Close()
		return nil, err
	}

	opts.Logger.Info("volume opened",
		"path", path,
		"files", inodes.Len(),
		"allocated_blocks", blocks.AllocatedBlocks(),
		"total_blocks", blocks.TotalBlocks())

	return &Engine{
		path:   path,
		device: device,
		sb:     sb,
		blocks: blocks,
		inodes: inodes,
		logger: opts.Logger,
	}, nil
}

// CreateFile adds an empty file. Fails with ErrDuplicateName if the
// name is taken.
func (e *Engine) CreateFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if _, err := e.inodes.Create(name); err != nil {
		return err
	}
	if err := e.inodes.persist(); err != nil {
		return err
	}
	e.logger.Debug("file created", "volume", e.path, "name", name)
	return nil
}

// WriteFile writes data at the given byte offset, growing the file's
// block list as needed. Bytes before the offset within affected
// blocks are preserved; bytes past the new size within an allocated
// block stay zero. The file size becomes max(old size, offset +
// len(data)).
//
// A write whose block span exceeds the volume's capacity fails with
// ErrNoSpace before any allocation. If allocation fails partway
// (ErrNoSpace, the volume filled by other files), the blocks already
// allocated stay allocated and attached to the inode; the size is
// unchanged. There is no rollback.
func (e *Engine) WriteFile(name string, data []byte, offset int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}

	inode, err := e.inodes.Get(name)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	blockSize := int64(e.sb.BlockSize)
	end := offset + int64(len(data))
	if end < 0 {
		// offset + len(data) wrapped past MaxInt64.
		return fmt.Errorf("%w: %d bytes at offset %d overflows the file size",
			ErrNoSpace, len(data), offset)
	}
	// end >= 1 here (data is non-empty), so this form cannot overflow
	// the way (end + blockSize - 1) / blockSize would.
	needed := (end-1)/blockSize + 1
	if needed > int64(e.sb.TotalBlocks) {
		return fmt.Errorf("%w: %d bytes at offset %d spans %d blocks, volume has %d",
			ErrNoSpace, len(data), offset, needed, e.sb.TotalBlocks)
	}

	for int64(len(inode.Blocks)) < needed {
		index, err := e.blocks.Allocate()
		if err != nil {
			// Keep what was allocated so far on the inode: the
			// bitmap already records it, and dropping the indices
			// here would leak the blocks permanently.
			if storeErr := e.storeInode(name, inode); storeErr != nil {
				return storeErr
			}
			return fmt.Errorf("growing %q to %d blocks: %w", name, needed, err)
		}
		// Zero the block before attaching it. A reused block still
		// holds the previous owner's bytes, and a sparse write must
		// read back zeros in the gap, not stale content.
		if err := e.blocks.WriteBlock(index, nil); err != nil {
			return err
		}
		inode.Blocks = append(inode.Blocks, index)
	}

	written := 0
	for written < len(data) {
		position := offset + int64(written)
		logical := int(position / blockSize)
		within := position % blockSize
		chunk := min(int(blockSize-within), len(data)-written)

		physical := inode.Blocks[logical]
		var block []byte
		if within == 0 && chunk == int(blockSize) {
			block = data[written : written+chunk]
		} else {
			// Partial block: read-modify-write to preserve the
			// bytes around the chunk.
			block, err = e.blocks.ReadBlock(physical)
			if err != nil {
				return err
			}
			copy(block[within:], data[written:written+chunk])
		}
		if err := e.blocks.WriteBlock(physical, block); err != nil {
			return err
		}
		written += chunk
	}

	if end > inode.Size {
		inode.Size = end
	}
	if err := e.storeInode(name, inode); err != nil {
		return err
	}

	e.logger.Debug("file written",
		"volume", e.path,
		"name", name,
		"offset", offset,
		"bytes", len(data),
		"size", inode.Size,
		"blocks", len(inode.Blocks))
	return nil
}

// ReadFile returns the file content slice [offset, offset+length),
// clipped to the file size. A negative length means "to end of
// file". An offset at or past the end returns an empty slice, not an
// error.
func (e *Engine) ReadFile(name string, offset, length int64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d", offset)
	}

	inode, err := e.inodes.Get(name)
	if err != nil {
		return nil, err
	}

	// Compare length against the remaining span rather than computing
	// offset+length, which can overflow for huge explicit lengths; a
	// length past the end clips to the file size.
	end := inode.Size
	if length >= 0 && length < end-offset {
		end = offset + length
	}
	if offset >= end {
		return []byte{}, nil
	}

	blockSize := int64(e.sb.BlockSize)
	result := make([]byte, 0, end-offset)
	for position := offset; position < end; {
		logical := int(position / blockSize)
		within := position % blockSize
		chunk := min(blockSize-within, end-position)

		block, err := e.blocks.ReadBlock(inode.Blocks[logical])
		if err != nil {
			return nil, err
		}
		result = append(result, block[within:within+chunk]...)
		position += chunk
	}
	return result, nil
}

// DeleteFile removes the file and returns its blocks to the free
// pool.
func (e *Engine) DeleteFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	freed, err := e.inodes.Delete(name)
	if err != nil {
		return err
	}
	for _, index := range freed {
		if err := e.blocks.Free(index); err != nil {
			return fmt.Errorf("freeing blocks of %q: %w", name, err)
		}
	}
	if err := e.inodes.persist(); err != nil {
		return err
	}

	e.logger.Debug("file deleted", "volume", e.path, "name", name, "freed_blocks", len(freed))
	return nil
}

// ListFiles returns a snapshot of every file, sorted by name. Two
// calls with no intervening mutation return identical results.
func (e *Engine) ListFiles() ([]FileInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	records := e.inodes.List()
	infos := make([]FileInfo, len(records))
	for i, inode := range records {
		infos[i] = fileInfo(inode)
	}
	return infos, nil
}

// Stat returns the snapshot for a single file.
func (e *Engine) Stat(name string) (FileInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return FileInfo{}, ErrClosed
	}

	inode, err := e.inodes.Get(name)
	if err != nil {
		return FileInfo{}, err
	}
	return fileInfo(inode), nil
}

// BlockSize returns the volume's block size in bytes.
func (e *Engine) BlockSize() uint32 { return e.sb.BlockSize }

// TotalBlocks returns the data-region block count.
func (e *Engine) TotalBlocks() uint32 { return e.sb.TotalBlocks }

// FreeBlocks returns the number of unallocated data blocks.
func (e *Engine) FreeBlocks() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocks.FreeBlocks()
}

// Close persists all metadata, syncs the device, and releases it.
// Further operations fail with ErrClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if err := e.inodes.persist(); err != nil {
		firstErr = err
	}
	if err := e.device.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("syncing volume: %w", err)
	}
	if err := e.device.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.logger.Info("volume closed", "path", e.path)
	return firstErr
}

// checkBlockOwnership verifies on open that every block an inode
// references is marked allocated in the bitmap. The table's own
// validation catches duplication within the table; this catches skew
// between the two regions, where the bitmap says free while an inode
// still claims the block.
func checkBlockOwnership(blocks *BlockStore, inodes *InodeTable) error {
	for _, inode := range inodes.List() {
		for _, index := range inode.Blocks {
			if !blocks.Allocated(index) {
				return fmt.Errorf("%w: %q claims block %d that the bitmap marks free",
					ErrCorruptMetadata, inode.Name, index)
			}
		}
	}
	return nil
}

// storeInode updates the record and persists the table in one step.
func (e *Engine) storeInode(name string, inode *Inode) error {
	if err := e.inodes.Update(name, inode); err != nil {
		return err
	}
	return e.inodes.persist()
}

func fileInfo(inode *Inode) FileInfo {
	return FileInfo{
		Name:       inode.Name,
		Size:       inode.Size,
		CreatedAt:  inode.CreatedAt,
		BlockCount: len(inode.Blocks),
	}
}
