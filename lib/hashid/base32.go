// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashid implements the content identifier: a fixed-width
// cryptographic digest paired with a nonnegative file size, and its
// canonical base-32 textual encoding.
package hashid

import (
	"fmt"
	"math/big"
	"math/bits"
	"strings"

	"github.com/kwiberg/frz/internal/frzerr"
)

// Alphabet is the 32-character digit set used for the canonical textual
// encoding: digits plus lowercase letters, excluding i, l, o, and v,
// which are easily mistaken for 1, 1, 0, and u/y respectively.
const Alphabet = "0123456789abcdefghjkmnpqrstuwxyz"

var digitValue [256]int8

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		digitValue[Alphabet[i]] = int8(i)
	}
}

// ID is a content identifier: a digest of some fixed bit width (a
// multiple of 8, conventionally 256 for BLAKE3) plus a nonnegative file
// size that fits in 63 bits.
type ID struct {
	Digest []byte
	Size   int64
}

// HashBits returns the digest width of id, in bits.
func (id ID) HashBits() int {
	return len(id.Digest) * 8
}

// Equal reports whether id and other address the same content.
func (id ID) Equal(other ID) bool {
	return id.Size == other.Size && string(id.Digest) == string(other.Digest)
}

// roundUp5 rounds n up to the nearest multiple of 5.
func roundUp5(n int) int {
	return ((n + 4) / 5) * 5
}

// Encode returns the canonical base-32 textual form of id: the digest
// bits, followed by the minimum number of bits needed to represent the
// size, left-padded with zero bits so that the total digit count is a
// whole number of base-32 digits.
func (id ID) Encode() string {
	hashBits := id.HashBits()

	minSizeBits := 0
	if id.Size > 0 {
		minSizeBits = bits.Len64(uint64(id.Size))
	}
	paddedTotalBits := roundUp5(hashBits + minSizeBits)
	sizeBits := paddedTotalBits - hashBits
	digitCount := paddedTotalBits / 5

	value := new(big.Int).SetBytes(id.Digest)
	value.Lsh(value, uint(sizeBits))
	value.Or(value, big.NewInt(id.Size))

	digits := make([]byte, digitCount)
	mask := big.NewInt(0x1f)
	chunk := new(big.Int)
	for i := digitCount - 1; i >= 0; i-- {
		chunk.And(value, mask)
		digits[i] = Alphabet[chunk.Int64()]
		value.Rsh(value, 5)
	}
	return string(digits)
}

// Decode parses the canonical base-32 form of a content ID with the
// given digest width. Input is accepted case-insensitively; the
// returned ID always round-trips to a lowercase string via Encode.
//
// Decode rejects (per the canonical-minimality invariant) any string
// whose size portion has five or more leading zero padding bits beyond
// what the size value actually needs — such a string could have been
// expressed with one fewer digit, so it is not the canonical encoding
// of any ID.
func Decode(hashBits int, s string) (ID, error) {
	if hashBits <= 0 || hashBits%8 != 0 {
		return ID{}, fmt.Errorf("decoding content id: hash width %d is not a positive multiple of 8", hashBits)
	}

	lower := strings.ToLower(s)
	totalBits := len(lower) * 5
	if totalBits < hashBits {
		return ID{}, fmt.Errorf("decoding %q as a %d-bit content id: %w", s, hashBits, frzerr.BadEncoding)
	}

	value := new(big.Int)
	digit := new(big.Int)
	for i := 0; i < len(lower); i++ {
		v := digitValue[lower[i]]
		if v < 0 {
			return ID{}, fmt.Errorf("decoding %q as a content id: character %q is not a base-32 digit: %w", s, lower[i], frzerr.BadEncoding)
		}
		value.Lsh(value, 5)
		digit.SetInt64(int64(v))
		value.Or(value, digit)
	}

	sizeBits := totalBits - hashBits
	sizeMask := new(big.Int).Lsh(big.NewInt(1), uint(sizeBits))
	sizeMask.Sub(sizeMask, big.NewInt(1))
	sizeValue := new(big.Int).And(value, sizeMask)

	if sizeValue.BitLen() > 63 {
		return ID{}, fmt.Errorf("decoding %q as a content id: size exceeds 63 bits: %w", s, frzerr.BadEncoding)
	}
	actualSizeBits := sizeValue.BitLen()
	if sizeBits-actualSizeBits >= 5 {
		return ID{}, fmt.Errorf("decoding %q as a content id: non-canonical size padding (%d leading zero bits): %w",
			s, sizeBits-actualSizeBits, frzerr.BadEncoding)
	}

	digestValue := new(big.Int).Rsh(value, uint(sizeBits))
	digest := make([]byte, hashBits/8)
	digestValue.FillBytes(digest)

	return ID{Digest: digest, Size: sizeValue.Int64()}, nil
}

// IsBase32Digits reports whether every character in s is a valid
// base-32 digit (case-insensitively).
func IsBase32Digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if digitValue[strings.ToLower(s)[i]] < 0 {
			return false
		}
	}
	return true
}

// ShardSubdirs is the number of sharding directory levels used when
// laying out index entries and hash-named symlink trees on disk.
const ShardSubdirs = 2

// ShardDigits is the number of base-32 digits used to name each
// sharding directory level.
const ShardDigits = 2

// ShardPath splits the canonical base-32 string of an ID into the
// two-level sharded path used for index entries:
// <base32[0:2]>/<base32[2:4]>/<base32[4:]>.
func ShardPath(base32 string) []string {
	return []string{
		base32[0:ShardDigits],
		base32[ShardDigits : 2*ShardDigits],
		base32[2*ShardDigits:],
	}
}
