// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package volume implements a single-file, flat-namespace block
// storage engine: a block-addressable backing store with bitmap-based
// free-space tracking, and an inode table mapping file names to
// ordered block lists.
//
// A volume is one file on the host filesystem:
//
//	[ header block  : CBOR superblock + BLAKE3 checksum          ]
//	[ bitmap region : one bit per data block + BLAKE3 checksum   ]
//	[ inode table   : compressed CBOR records + BLAKE3 checksum  ]
//	[ data region   : totalBlocks × blockSize bytes              ]
//
// The superblock is self-describing (magic, format version, block
// size, total blocks, compression tag), so Open can validate
// compatibility and fail with ErrCorruptVolume rather than misread a
// foreign or damaged file.
//
// The Engine composes the BlockStore (allocation) and InodeTable
// (metadata) into file-level operations: CreateFile, WriteFile,
// ReadFile, DeleteFile, ListFiles. All metadata is persisted after
// every mutating operation.
//
// # Preconditions and durability
//
// Exactly one Engine may hold a given volume file at a time. The
// Engine serializes its own operations with an internal mutex, but
// nothing prevents a second process from opening the same file —
// cross-process exclusion is the caller's responsibility.
//
// There is no journal. Each operation persists the bitmap and inode
// table before returning, but a crash between a data-block write and
// the following metadata persist can leave an inode's size or block
// list inconsistent with block contents. Similarly, a write that runs
// out of space mid-allocation leaves the new blocks allocated and
// attached to the inode with the size unchanged — there is no
// rollback.
package volume
