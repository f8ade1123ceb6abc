// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/flatvol/lib/clock"
	"github.com/bureau-foundation/flatvol/lib/codec"
)

// maxNameLen bounds file names. Long enough for any sane name, short
// enough that a corrupt length field cannot balloon the table.
const maxNameLen = 255

// Inode is the metadata record for one file: its name, exact byte
// size, creation time, and the ordered list of data blocks holding
// its content. Block indices are lookup keys into the BlockStore,
// not owning references — the table never frees blocks itself, it
// reports them to the Engine on delete.
type Inode struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Blocks    []uint32  `json:"blocks"`
}

func (i *Inode) clone() *Inode {
	copied := *i
	copied.Blocks = append([]uint32(nil), i.Blocks...)
	return &copied
}

// InodeTable is the durable mapping from file name to Inode. It is
// persisted as a single compressed CBOR blob in the volume's
// reserved metadata region; the Engine persists it after every
// mutating operation.
type InodeTable struct {
	device      *Device
	metaOffset  int64
	metaLen     int64
	blockSize   uint32
	totalBlocks uint32
	compression CompressionTag
	clk         clock.Clock
	inodes      map[string]*Inode
}

// newInodeTable creates an empty table for a fresh volume and
// persists it so the metadata region is valid from the first byte.
func newInodeTable(device *Device, sb *superblock, lo layout, clk clock.Clock) (*InodeTable, error) {
	t := &InodeTable{
		device:      device,
		metaOffset:  lo.metaOffset,
		metaLen:     lo.metaLen,
		blockSize:   sb.BlockSize,
		totalBlocks: sb.TotalBlocks,
		compression: sb.Compression,
		clk:         clk,
		inodes:      make(map[string]*Inode),
	}
	if err := t.persist(); err != nil {
		return nil, err
	}
	return t, nil
}

// loadInodeTable reads the persisted table of an existing volume.
// Any failure — checksum, decompression, decode, or record
// validation — is ErrCorruptMetadata: a table that does not validate
// must never be partially trusted.
func loadInodeTable(device *Device, sb *superblock, lo layout, clk clock.Clock) (*InodeTable, error) {
	t := &InodeTable{
		device:      device,
		metaOffset:  lo.metaOffset,
		metaLen:     lo.metaLen,
		blockSize:   sb.BlockSize,
		totalBlocks: sb.TotalBlocks,
		compression: sb.Compression,
		clk:         clk,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// Create adds a zero-size inode with an empty block list and the
// current timestamp. The caller persists.
func (t *InodeTable) Create(name string) (*Inode, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, ok := t.inodes[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	inode := &Inode{
		Name:      name,
		CreatedAt: t.clk.Now(),
	}
	t.inodes[name] = inode
	return inode.clone(), nil
}

// Get returns a copy of the named inode. Mutations to the copy are
// not visible until Update stores them back.
func (t *InodeTable) Get(name string) (*Inode, error) {
	inode, ok := t.inodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}
	return inode.clone(), nil
}

// Update replaces the stored record. The caller (the Engine) is
// responsible for block-list validity; the table only checks that
// the record matches its key and that the name exists.
func (t *InodeTable) Update(name string, inode *Inode) error {
	if _, ok := t.inodes[name]; !ok {
		return fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}
	if inode.Name != name {
		return fmt.Errorf("inode name %q does not match key %q", inode.Name, name)
	}
	t.inodes[name] = inode.clone()
	return nil
}

// Delete removes the entry and returns its block list for the caller
// to free. The table does not call the BlockStore directly.
func (t *InodeTable) Delete(name string) ([]uint32, error) {
	inode, ok := t.inodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}
	delete(t.inodes, name)
	return inode.Blocks, nil
}

// List returns copies of all records, sorted by name. The order is
// stable across calls with no intervening mutation.
func (t *InodeTable) List() []*Inode {
	names := make([]string, 0, len(t.inodes))
	for name := range t.inodes {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]*Inode, len(names))
	for i, name := range names {
		records[i] = t.inodes[name].clone()
	}
	return records
}

// Len returns the number of files.
func (t *InodeTable) Len() int {
	return len(t.inodes)
}

// Metadata region frame:
//
//	[0:4]  big-endian length of the compressed blob
//	[4]    compression tag actually used for this blob
//	[5:9]  big-endian uncompressed length
//	[9:n]  compressed CBOR map[name]Inode
//	[n:n+32] BLAKE3 keyed checksum over bytes [0:n]
const metaFrameHeader = 9

// persist encodes, compresses, checksums, and writes the whole table
// to the metadata region.
func (t *InodeTable) persist() error {
	blob, err := codec.Marshal(t.inodes)
	if err != nil {
		return fmt.Errorf("encoding inode table: %w", err)
	}

	compressed, tag, err := compress(blob, t.compression)
	if err != nil {
		return fmt.Errorf("compressing inode table: %w", err)
	}

	frameLen := metaFrameHeader + len(compressed) + checksumSize
	if int64(frameLen) > t.metaLen {
		return fmt.Errorf("%w: table needs %d bytes, region holds %d",
			ErrMetadataFull, frameLen, t.metaLen)
	}

	frame := make([]byte, frameLen)
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(compressed)))
	frame[4] = byte(tag)
	binary.BigEndian.PutUint32(frame[5:9], uint32(len(blob)))
	copy(frame[metaFrameHeader:], compressed)
	sum := keyedSum(inodeDomainKey, frame[:metaFrameHeader+len(compressed)])
	copy(frame[metaFrameHeader+len(compressed):], sum[:])

	if _, err := t.device.WriteAt(frame, t.metaOffset); err != nil {
		return fmt.Errorf("persisting inode table: %w", err)
	}
	return nil
}

func (t *InodeTable) load() error {
	region := make([]byte, t.metaLen)
	if _, err := t.device.ReadAt(region, t.metaOffset); err != nil {
		return fmt.Errorf("reading inode table region: %w", err)
	}

	compressedLen := int(binary.BigEndian.Uint32(region[0:4]))
	tag := CompressionTag(region[4])
	uncompressedLen := int(binary.BigEndian.Uint32(region[5:9]))
	if compressedLen < 0 || int64(metaFrameHeader+compressedLen+checksumSize) > t.metaLen {
		return fmt.Errorf("%w: implausible blob length %d", ErrCorruptMetadata, compressedLen)
	}

	payloadEnd := metaFrameHeader + compressedLen
	want := region[payloadEnd : payloadEnd+checksumSize]
	sum := keyedSum(inodeDomainKey, region[:payloadEnd])
	if !bytes.Equal(sum[:], want) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptMetadata)
	}

	blob, err := decompress(region[metaFrameHeader:payloadEnd], tag, uncompressedLen)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}

	inodes := make(map[string]*Inode)
	if err := codec.Unmarshal(blob, &inodes); err != nil {
		return fmt.Errorf("%w: decoding records: %v", ErrCorruptMetadata, err)
	}
	if err := t.validateRecords(inodes); err != nil {
		return err
	}
	t.inodes = inodes
	return nil
}

// validateRecords enforces the table-wide invariants on load: names
// match their keys, sizes fit the block lists, block indices are in
// range, and no block belongs to two files (or appears twice in one).
func (t *InodeTable) validateRecords(inodes map[string]*Inode) error {
	owners := make(map[uint32]string)
	for name, inode := range inodes {
		if inode == nil || inode.Name != name {
			return fmt.Errorf("%w: record key %q does not match its inode", ErrCorruptMetadata, name)
		}
		if err := validateName(name); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
		}
		if inode.Size < 0 || inode.Size > int64(len(inode.Blocks))*int64(t.blockSize) {
			return fmt.Errorf("%w: %q size %d exceeds its %d blocks",
				ErrCorruptMetadata, name, inode.Size, len(inode.Blocks))
		}
		for _, index := range inode.Blocks {
			if index >= t.totalBlocks {
				return fmt.Errorf("%w: %q references block %d beyond volume end %d",
					ErrCorruptMetadata, name, index, t.totalBlocks)
			}
			if owner, taken := owners[index]; taken {
				return fmt.Errorf("%w: block %d claimed by both %q and %q",
					ErrCorruptMetadata, index, owner, name)
			}
			owners[index] = name
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrInvalidName, len(name), maxNameLen)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q contains '/' or NUL", ErrInvalidName, name)
	}
	return nil
}
