// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides flatvol's standard CBOR encoding configuration.
//
// Every structure persisted inside a volume (the superblock and the
// inode table) is encoded as CBOR through this package. The encoder
// uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. Determinism
// matters here because persisted metadata is checksummed — the same
// logical state must always produce identical bytes, so a checksum
// mismatch always means corruption, never an encoding artifact.
//
// The decoder accepts standard CBOR and silently ignores unknown
// fields, so older engines can open volumes written by newer ones as
// long as the format version matches.
package codec
