// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import "github.com/zeebo/blake3"

// checksumSize is the length of every metadata checksum: a 32-byte
// BLAKE3 keyed digest.
const checksumSize = 32

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same bytes produce different checksums in
// different regions, so a bitmap copied over the inode table region
// (or any other cross-region smear) fails validation. The byte
// values are the ASCII encoding of the domain name, zero-padded to
// 32 bytes — readable in hex dumps without sacrificing any property
// of the keyed mode.
type domainKey [32]byte

var (
	superblockDomainKey = domainKey{
		'f', 'l', 'a', 't', 'v', 'o', 'l', '.',
		's', 'u', 'p', 'e', 'r', 'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	bitmapDomainKey = domainKey{
		'f', 'l', 'a', 't', 'v', 'o', 'l', '.',
		'b', 'i', 't', 'm', 'a', 'p', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	inodeDomainKey = domainKey{
		'f', 'l', 'a', 't', 'v', 'o', 'l', '.',
		'i', 'n', 'o', 'd', 'e', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// keyedSum computes the keyed BLAKE3 digest of data in the given
// domain.
func keyedSum(key domainKey, data []byte) [checksumSize]byte {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("volume: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum [checksumSize]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}
