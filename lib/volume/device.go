// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package volume

import (
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// Device is the fixed-size file backing a volume. Reads go through a
// read-only memory map for zero-syscall overhead; writes use pwrite
// to avoid triggering read-before-write page faults.
//
// The Engine serializes all access; Device itself performs no
// locking.
type Device struct {
	fd   int
	data []byte // mmap'd MAP_SHARED, PROT_READ
	size int64
}

// CreateDevice creates a new volume file of the given size,
// zero-filled. Fails with ErrVolumeExists if a file is already
// present at the path.
func CreateDevice(path string, size int64) (*Device, error) {
	if size <= 0 {
		return nil, fmt.Errorf("device size must be positive, got %d", size)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o644)
	if err != nil {
		if err == unix.EEXIST {
			return nil, fmt.Errorf("%w: %s", ErrVolumeExists, path)
		}
		return nil, fmt.Errorf("creating device %s: %w", path, err)
	}

	// Truncate zero-fills: unwritten regions read back as zeros,
	// which is exactly the fresh-volume state.
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncating new device to %d bytes: %w", size, err)
	}

	return mapDevice(fd, size, path)
}

// OpenDevice opens an existing volume file. The device size is taken
// from the file; geometry validation against the superblock is the
// caller's job.
func OpenDevice(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating device %s: %w", path, err)
	}
	if stat.Size == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is empty", ErrCorruptVolume, path)
	}

	return mapDevice(fd, stat.Size, path)
}

// mapDevice memory-maps the file read-only. Writes go through
// pwrite() and the kernel updates the shared mapping automatically.
func mapDevice(fd int, size int64, path string) (*Device, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory-mapping device %s: %w", path, err)
	}

	return &Device{
		fd:   fd,
		data: data,
		size: size,
	}, nil
}

// ReadAt reads len(p) bytes from the device starting at byte offset
// off. Reads go through the memory map — no system call overhead for
// data that is in the page cache.
func (d *Device) ReadAt(p []byte, off int64) (readCount int, err error) {
	if off < 0 || off >= d.size {
		return 0, io.EOF
	}

	// Guard against page faults from I/O errors on the underlying
	// storage (e.g., disk failure). Without this, a SIGBUS would
	// crash the process.
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("page fault reading device at offset %d: %v", off, r)
		}
	}()

	readCount = copy(p, d.data[off:])
	if readCount < len(p) {
		return readCount, io.EOF
	}
	return readCount, nil
}

// WriteAt writes len(p) bytes to the device starting at byte offset
// off. Writes use pwrite() to avoid triggering read-before-write
// page faults on the memory map.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("write at offset %d with length %d exceeds device size %d",
			off, len(p), d.size)
	}

	totalWritten := 0
	for len(p) > 0 {
		written, err := unix.Pwrite(d.fd, p, off)
		totalWritten += written
		if err != nil {
			return totalWritten, fmt.Errorf("pwrite at offset %d: %w", off, err)
		}
		p = p[written:]
		off += int64(written)
	}
	return totalWritten, nil
}

// Sync flushes all pending writes to the underlying storage.
func (d *Device) Sync() error {
	return unix.Fsync(d.fd)
}

// Close unmaps the memory region and closes the file descriptor.
func (d *Device) Close() error {
	var firstErr error
	if err := unix.Munmap(d.data); err != nil {
		firstErr = fmt.Errorf("unmapping device: %w", err)
	}
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing device fd: %w", err)
	}
	d.data = nil
	d.fd = -1
	return firstErr
}

// Size returns the device size in bytes.
func (d *Device) Size() int64 {
	return d.size
}
