// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestCreateDeviceZeroFilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	device, err := CreateDevice(path, 8192)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer device.Close()

	if device.Size() != 8192 {
		t.Errorf("Size() = %d, want 8192", device.Size())
	}

	buffer := make([]byte, 8192)
	if _, err := device.ReadAt(buffer, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buffer, make([]byte, 8192)) {
		t.Error("new device is not zero-filled")
	}
}

func TestCreateDeviceRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	device, err := CreateDevice(path, 4096)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	device.Close()

	if _, err := CreateDevice(path, 4096); !errors.Is(err, ErrVolumeExists) {
		t.Errorf("second CreateDevice error = %v, want ErrVolumeExists", err)
	}
}

func TestDeviceWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	device, err := CreateDevice(path, 16384)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer device.Close()

	payload := []byte("written through pwrite, read through the mmap")
	if _, err := device.WriteAt(payload, 5000); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := device.ReadAt(got, 5000); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadAt = %q, want %q", got, payload)
	}
}

func TestDeviceWritePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	device, err := CreateDevice(path, 4096)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if _, err := device.WriteAt([]byte("durable"), 100); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := device.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenDevice(path)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer reopened.Close()

	got := make([]byte, 7)
	if _, err := reopened.ReadAt(got, 100); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("ReadAt = %q, want %q", got, "durable")
	}
}

func TestDeviceBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	device, err := CreateDevice(path, 4096)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	defer device.Close()

	if _, err := device.ReadAt(make([]byte, 10), 4096); err != io.EOF {
		t.Errorf("ReadAt past end = %v, want io.EOF", err)
	}
	if _, err := device.WriteAt(make([]byte, 10), 4090); err == nil {
		t.Error("WriteAt past end accepted")
	}
	if _, err := device.WriteAt([]byte("x"), -1); err == nil {
		t.Error("WriteAt with negative offset accepted")
	}
}

func TestOpenDeviceMissing(t *testing.T) {
	if _, err := OpenDevice(filepath.Join(t.TempDir(), "absent.img")); err == nil {
		t.Error("OpenDevice on missing file succeeded")
	}
}
