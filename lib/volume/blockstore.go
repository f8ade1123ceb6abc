// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"bytes"
	"fmt"
)

// BlockStore maps block indices to durable byte ranges in the data
// region and tracks which indices are free. It knows nothing about
// files.
//
// Block indices are zero-based over the data region only; the
// header, bitmap, and inode table regions are not addressable here.
// Every mutating operation persists the bitmap before returning, so
// the on-disk bitmap never lags the in-memory one by more than the
// operation in flight.
type BlockStore struct {
	device       *Device
	blockSize    uint32
	totalBlocks  uint32
	bitmapOffset int64
	dataOffset   int64
	bits         *bitmap
}

// newBlockStore initializes the block store for a freshly created
// volume: every block free, bitmap persisted.
func newBlockStore(device *Device, sb *superblock, lo layout) (*BlockStore, error) {
	s := &BlockStore{
		device:       device,
		blockSize:    sb.BlockSize,
		totalBlocks:  sb.TotalBlocks,
		bitmapOffset: lo.bitmapOffset,
		dataOffset:   lo.dataOffset,
		bits:         newBitmap(sb.TotalBlocks),
	}
	if err := s.persistBitmap(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadBlockStore reads and validates the persisted bitmap of an
// existing volume.
func loadBlockStore(device *Device, sb *superblock, lo layout) (*BlockStore, error) {
	region := make([]byte, lo.bitmapLen)
	if _, err := device.ReadAt(region, lo.bitmapOffset); err != nil {
		return nil, fmt.Errorf("reading bitmap region: %w", err)
	}

	raw := region[:len(region)-checksumSize]
	want := region[len(region)-checksumSize:]
	sum := keyedSum(bitmapDomainKey, raw)
	if !bytes.Equal(sum[:], want) {
		return nil, fmt.Errorf("%w: bitmap checksum mismatch", ErrCorruptVolume)
	}

	bits, err := bitmapFromBytes(raw, sb.TotalBlocks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVolume, err)
	}

	return &BlockStore{
		device:       device,
		blockSize:    sb.BlockSize,
		totalBlocks:  sb.TotalBlocks,
		bitmapOffset: lo.bitmapOffset,
		dataOffset:   lo.dataOffset,
		bits:         bits,
	}, nil
}

// Allocate marks the lowest-indexed free block as allocated and
// returns its index. Lowest-first is deliberate: freed blocks are
// the first reused, which keeps allocation deterministic.
func (s *BlockStore) Allocate() (uint32, error) {
	index, ok := s.bits.firstFree()
	if !ok {
		return 0, ErrNoSpace
	}
	s.bits.set(index)
	if err := s.persistBitmap(); err != nil {
		return 0, err
	}
	return index, nil
}

// Free releases a block. Freeing an out-of-range or already-free
// index is a caller bug and is surfaced as ErrInvalidBlock, never
// ignored.
func (s *BlockStore) Free(index uint32) error {
	if index >= s.totalBlocks {
		return fmt.Errorf("%w: %d out of range [0, %d)", ErrInvalidBlock, index, s.totalBlocks)
	}
	if !s.bits.test(index) {
		return fmt.Errorf("%w: double free of block %d", ErrInvalidBlock, index)
	}
	s.bits.clear(index)
	return s.persistBitmap()
}

// ReadBlock returns exactly blockSize bytes of block content.
func (s *BlockStore) ReadBlock(index uint32) ([]byte, error) {
	if index >= s.totalBlocks {
		return nil, fmt.Errorf("%w: %d out of range [0, %d)", ErrInvalidBlock, index, s.totalBlocks)
	}
	block := make([]byte, s.blockSize)
	if _, err := s.device.ReadAt(block, s.blockOffset(index)); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", index, err)
	}
	return block, nil
}

// WriteBlock writes data to a block. Shorter buffers are zero-padded
// to the block boundary — a block write always covers the full
// block, so writing nil zeroes the block entirely. The block must be
// allocated; writing an unallocated block is a caller bug.
func (s *BlockStore) WriteBlock(index uint32, data []byte) error {
	if index >= s.totalBlocks {
		return fmt.Errorf("%w: %d out of range [0, %d)", ErrInvalidBlock, index, s.totalBlocks)
	}
	if uint32(len(data)) > s.blockSize {
		return fmt.Errorf("%w: %d bytes into %d-byte blocks", ErrBufferTooLarge, len(data), s.blockSize)
	}
	if !s.bits.test(index) {
		return fmt.Errorf("%w: write to unallocated block %d", ErrInvalidBlock, index)
	}

	if uint32(len(data)) < s.blockSize {
		padded := make([]byte, s.blockSize)
		copy(padded, data)
		data = padded
	}
	if _, err := s.device.WriteAt(data, s.blockOffset(index)); err != nil {
		return fmt.Errorf("writing block %d: %w", index, err)
	}
	return nil
}

// Allocated reports whether the block is marked allocated.
func (s *BlockStore) Allocated(index uint32) bool {
	return index < s.totalBlocks && s.bits.test(index)
}

// AllocatedBlocks returns the number of allocated blocks.
func (s *BlockStore) AllocatedBlocks() uint32 {
	return s.bits.setCount()
}

// FreeBlocks returns the number of free blocks.
func (s *BlockStore) FreeBlocks() uint32 {
	return s.totalBlocks - s.bits.setCount()
}

// TotalBlocks returns the data-region block count.
func (s *BlockStore) TotalBlocks() uint32 {
	return s.totalBlocks
}

// BlockSize returns the block size in bytes.
func (s *BlockStore) BlockSize() uint32 {
	return s.blockSize
}

func (s *BlockStore) blockOffset(index uint32) int64 {
	return s.dataOffset + int64(index)*int64(s.blockSize)
}

// persistBitmap flushes the bitmap and its checksum to the bitmap
// region. Called by every mutating operation before it returns.
func (s *BlockStore) persistBitmap() error {
	raw := s.bits.bytes()
	region := make([]byte, len(raw)+checksumSize)
	copy(region, raw)
	sum := keyedSum(bitmapDomainKey, raw)
	copy(region[len(raw):], sum[:])
	if _, err := s.device.WriteAt(region, s.bitmapOffset); err != nil {
		return fmt.Errorf("persisting bitmap: %w", err)
	}
	return nil
}
