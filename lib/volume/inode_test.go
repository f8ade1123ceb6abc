// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/flatvol/lib/clock"
)

var testEpoch = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

// newTestTable creates a fresh inode table over a real device.
func newTestTable(t *testing.T, compression CompressionTag) (*InodeTable, *superblock, layout, string, *clock.FakeClock) {
	t.Helper()
	sb := &superblock{
		Magic:       magic,
		Version:     formatVersion,
		BlockSize:   512,
		TotalBlocks: 64,
		MetaBlocks:  4,
		Compression: compression,
	}
	lo := computeLayout(sb)

	path := filepath.Join(t.TempDir(), "table.img")
	device, err := CreateDevice(path, lo.fileSize)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	t.Cleanup(func() { device.Close() })

	fake := clock.Fake(testEpoch)
	table, err := newInodeTable(device, sb, lo, fake)
	if err != nil {
		t.Fatalf("newInodeTable: %v", err)
	}
	return table, sb, lo, path, fake
}

func TestInodeTableCreate(t *testing.T) {
	table, _, _, _, fake := newTestTable(t, CompressionNone)

	inode, err := table.Create("alpha")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inode.Size != 0 || len(inode.Blocks) != 0 {
		t.Errorf("new inode = size %d, %d blocks; want empty", inode.Size, len(inode.Blocks))
	}
	if !inode.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want %v", inode.CreatedAt, testEpoch)
	}

	fake.Advance(time.Minute)
	second, err := table.Create("beta")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !second.CreatedAt.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want the advanced fake time", second.CreatedAt)
	}
}

func TestInodeTableDuplicate(t *testing.T) {
	table, _, _, _, _ := newTestTable(t, CompressionNone)

	if _, err := table.Create("a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := table.Create("a"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("second Create = %v, want ErrDuplicateName", err)
	}
}

func TestInodeTableNameValidation(t *testing.T) {
	table, _, _, _, _ := newTestTable(t, CompressionNone)

	cases := []string{"", "dir/file", "nul\x00byte", string(make([]byte, maxNameLen+1))}
	for _, name := range cases {
		if _, err := table.Create(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Create(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestInodeTableGetReturnsCopy(t *testing.T) {
	table, _, _, _, _ := newTestTable(t, CompressionNone)

	if _, err := table.Create("f"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := table.Get("f")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.Size = 999
	first.Blocks = append(first.Blocks, 1, 2, 3)

	second, err := table.Get("f")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Size != 0 || len(second.Blocks) != 0 {
		t.Error("mutating a Get result leaked into the table")
	}
}

func TestInodeTableUpdateAndDelete(t *testing.T) {
	table, _, _, _, _ := newTestTable(t, CompressionNone)

	if _, err := table.Create("f"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	inode, _ := table.Get("f")
	inode.Size = 1000
	inode.Blocks = []uint32{4, 9}
	if err := table.Update("f", inode); err != nil {
		t.Fatalf("Update: %v", err)
	}

	freed, err := table.Delete("f")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(freed) != 2 || freed[0] != 4 || freed[1] != 9 {
		t.Errorf("Delete returned blocks %v, want [4 9]", freed)
	}
	if _, err := table.Get("f"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Get after Delete = %v, want ErrFileNotFound", err)
	}
	if _, err := table.Delete("f"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("second Delete = %v, want ErrFileNotFound", err)
	}
	if err := table.Update("f", inode); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Update on deleted name = %v, want ErrFileNotFound", err)
	}
}

func TestInodeTableListSortedByName(t *testing.T) {
	table, _, _, _, _ := newTestTable(t, CompressionNone)

	for _, name := range []string{"zebra", "apple", "mango"} {
		if _, err := table.Create(name); err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
	}

	records := table.List()
	want := []string{"apple", "mango", "zebra"}
	if len(records) != len(want) {
		t.Fatalf("List returned %d records, want %d", len(records), len(want))
	}
	for i, name := range want {
		if records[i].Name != name {
			t.Errorf("List[%d] = %q, want %q", i, records[i].Name, name)
		}
	}
}

func TestInodeTablePersistLoad(t *testing.T) {
	for _, compression := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			table, sb, lo, path, _ := newTestTable(t, compression)

			if _, err := table.Create("kept"); err != nil {
				t.Fatalf("Create: %v", err)
			}
			inode, _ := table.Get("kept")
			inode.Size = 777
			inode.Blocks = []uint32{0, 5, 2}
			if err := table.Update("kept", inode); err != nil {
				t.Fatalf("Update: %v", err)
			}
			if err := table.persist(); err != nil {
				t.Fatalf("persist: %v", err)
			}

			device, err := OpenDevice(path)
			if err != nil {
				t.Fatalf("OpenDevice: %v", err)
			}
			defer device.Close()

			reloaded, err := loadInodeTable(device, sb, lo, clock.Fake(testEpoch))
			if err != nil {
				t.Fatalf("loadInodeTable: %v", err)
			}
			got, err := reloaded.Get("kept")
			if err != nil {
				t.Fatalf("Get after reload: %v", err)
			}
			if got.Size != 777 {
				t.Errorf("Size = %d after reload, want 777", got.Size)
			}
			if len(got.Blocks) != 3 || got.Blocks[0] != 0 || got.Blocks[1] != 5 || got.Blocks[2] != 2 {
				t.Errorf("Blocks = %v after reload, want [0 5 2]", got.Blocks)
			}
			if !got.CreatedAt.Equal(testEpoch) {
				t.Errorf("CreatedAt = %v after reload, want %v", got.CreatedAt, testEpoch)
			}
		})
	}
}

func TestInodeTableLoadRejectsTampering(t *testing.T) {
	table, sb, lo, path, _ := newTestTable(t, CompressionNone)
	if _, err := table.Create("victim"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := table.persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Corrupt one payload byte inside the metadata region.
	tampered := []byte{0xff}
	if _, err := table.device.WriteAt(tampered, lo.metaOffset+metaFrameHeader+2); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	device, err := OpenDevice(path)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer device.Close()

	if _, err := loadInodeTable(device, sb, lo, clock.Fake(testEpoch)); !errors.Is(err, ErrCorruptMetadata) {
		t.Errorf("loadInodeTable on tampered region = %v, want ErrCorruptMetadata", err)
	}
}

func TestInodeTableValidatesRecords(t *testing.T) {
	table, _, _, _, _ := newTestTable(t, CompressionNone)

	cases := map[string]map[string]*Inode{
		"key mismatch": {
			"a": {Name: "b", CreatedAt: testEpoch},
		},
		"size exceeds blocks": {
			"a": {Name: "a", Size: 513, Blocks: []uint32{0}, CreatedAt: testEpoch},
		},
		"block out of range": {
			"a": {Name: "a", Size: 1, Blocks: []uint32{64}, CreatedAt: testEpoch},
		},
		"block shared across files": {
			"a": {Name: "a", Size: 1, Blocks: []uint32{3}, CreatedAt: testEpoch},
			"b": {Name: "b", Size: 1, Blocks: []uint32{3}, CreatedAt: testEpoch},
		},
		"block repeated within file": {
			"a": {Name: "a", Size: 600, Blocks: []uint32{3, 3}, CreatedAt: testEpoch},
		},
	}

	for label, records := range cases {
		if err := table.validateRecords(records); !errors.Is(err, ErrCorruptMetadata) {
			t.Errorf("%s: validateRecords = %v, want ErrCorruptMetadata", label, err)
		}
	}
}

func TestInodeTableMetadataFull(t *testing.T) {
	// A 1-block metadata region fills up fast with incompressible
	// names.
	sb := &superblock{
		Magic:       magic,
		Version:     formatVersion,
		BlockSize:   512,
		TotalBlocks: 8,
		MetaBlocks:  1,
		Compression: CompressionNone,
	}
	lo := computeLayout(sb)

	path := filepath.Join(t.TempDir(), "small.img")
	device, err := CreateDevice(path, lo.fileSize)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer device.Close()

	table, err := newInodeTable(device, sb, lo, clock.Fake(testEpoch))
	if err != nil {
		t.Fatalf("newInodeTable: %v", err)
	}

	var persistErr error
	for i := 0; i < 100 && persistErr == nil; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+(i/26)%26)) + "-file-with-a-long-name"
		if _, err := table.Create(name); err != nil {
			t.Fatalf("Create: %v", err)
		}
		persistErr = table.persist()
	}
	if !errors.Is(persistErr, ErrMetadataFull) {
		t.Errorf("persist on overflowing table = %v, want ErrMetadataFull", persistErr)
	}
}
