// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"
	"math/bits"
)

// bitmap tracks allocation state for the data region, one bit per
// block. Bit i set means data block i is allocated. The BlockStore
// owns the only instance and persists it after every mutation.
type bitmap struct {
	words []byte
	count uint32 // number of valid bits
}

// bitmapBytes returns the byte length of a bitmap covering count
// blocks.
func bitmapBytes(count uint32) int {
	return (int(count) + 7) / 8
}

func newBitmap(count uint32) *bitmap {
	return &bitmap{
		words: make([]byte, bitmapBytes(count)),
		count: count,
	}
}

// bitmapFromBytes reconstructs a bitmap from its persisted form.
// Trailing pad bits in the final byte must be zero — a set pad bit
// means the region was not written by this engine.
func bitmapFromBytes(data []byte, count uint32) (*bitmap, error) {
	if len(data) != bitmapBytes(count) {
		return nil, fmt.Errorf("bitmap is %d bytes, want %d for %d blocks",
			len(data), bitmapBytes(count), count)
	}
	if pad := uint(count % 8); pad != 0 {
		if data[len(data)-1]>>pad != 0 {
			return nil, fmt.Errorf("bitmap has bits set beyond block %d", count-1)
		}
	}
	b := &bitmap{
		words: make([]byte, len(data)),
		count: count,
	}
	copy(b.words, data)
	return b, nil
}

func (b *bitmap) test(i uint32) bool {
	return b.words[i/8]&(1<<(i%8)) != 0
}

func (b *bitmap) set(i uint32) {
	b.words[i/8] |= 1 << (i % 8)
}

func (b *bitmap) clear(i uint32) {
	b.words[i/8] &^= 1 << (i % 8)
}

// firstFree returns the lowest clear bit. Allocation must be
// deterministic (always the lowest free index) so that freed blocks
// are the first reused.
func (b *bitmap) firstFree() (uint32, bool) {
	for byteIndex, word := range b.words {
		if word == 0xff {
			continue
		}
		bit := uint32(bits.TrailingZeros8(^word))
		index := uint32(byteIndex)*8 + bit
		if index >= b.count {
			return 0, false
		}
		return index, true
	}
	return 0, false
}

// setCount returns the number of allocated blocks.
func (b *bitmap) setCount() uint32 {
	var total int
	for _, word := range b.words {
		total += bits.OnesCount8(word)
	}
	return uint32(total)
}

// bytes returns the persisted form. The slice aliases the bitmap's
// storage; callers must not retain it across mutations.
func (b *bitmap) bytes() []byte {
	return b.words
}
