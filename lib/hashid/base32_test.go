// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hashid

import (
	"errors"
	"strings"
	"testing"

	"github.com/kwiberg/frz/internal/frzerr"
)

func digest32(b byte) []byte {
	d := make([]byte, 32)
	for i := range d {
		d[i] = b
	}
	return d
}

func TestRoundTrip(t *testing.T) {
	cases := []ID{
		{Digest: digest32(0x00), Size: 0},
		{Digest: digest32(0xff), Size: 1},
		{Digest: digest32(0x5a), Size: 3},
		{Digest: digest32(0x01), Size: 1 << 62},
		{Digest: digest32(0xaa), Size: (1 << 63) - 1},
	}
	for _, id := range cases {
		encoded := id.Encode()
		decoded, err := Decode(id.HashBits(), encoded)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", encoded, err)
		}
		if !decoded.Equal(id) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, id)
		}

		// Decoding a re-encoding of the decoded value must reproduce the
		// same (lowercase) string.
		if decoded.Encode() != encoded {
			t.Fatalf("re-encode mismatch: got %q, want %q", decoded.Encode(), encoded)
		}

		upper := strings.ToUpper(encoded)
		decodedUpper, err := Decode(id.HashBits(), upper)
		if err != nil {
			t.Fatalf("Decode(%q) (uppercase) failed: %v", upper, err)
		}
		if !decodedUpper.Equal(id) {
			t.Fatalf("uppercase round trip mismatch: got %+v, want %+v", decodedUpper, id)
		}
	}
}

func TestDecodeRejectsInvalidCharacter(t *testing.T) {
	id := ID{Digest: digest32(0x11), Size: 5}
	encoded := id.Encode()
	mangled := "!" + encoded[1:]
	if _, err := Decode(id.HashBits(), mangled); !errors.Is(err, frzerr.BadEncoding) {
		t.Fatalf("expected BadEncoding, got %v", err)
	}
}

func TestDecodeRejectsTooShort(t *testing.T) {
	id := ID{Digest: digest32(0x11), Size: 5}
	encoded := id.Encode()
	if _, err := Decode(id.HashBits(), encoded[:len(encoded)-1]); !errors.Is(err, frzerr.BadEncoding) {
		t.Fatalf("expected BadEncoding for truncated input, got %v", err)
	}
}

func TestDecodeRejectsNonCanonicalPadding(t *testing.T) {
	// Encode a size of 0 (needs 0 bits, so the 4 padding bits after the
	// 256 digest bits are all zero), then append an all-zero base-32
	// digit. The digest bits keep their value and the size portion grows
	// to 9 zero bits: 5 redundant leading zero padding bits.
	id := ID{Digest: digest32(0x11), Size: 0}
	encoded := id.Encode()
	nonCanonical := encoded + "0"
	// Exactly one digit must have been added to the size region.
	if len(nonCanonical) != len(encoded)+1 {
		t.Fatalf("test construction error")
	}
	if _, err := Decode(id.HashBits(), nonCanonical); err == nil {
		t.Fatalf("expected non-canonical padding to be rejected (or the construction didn't hit the size region)")
	}
}

func TestSymlinkTargetRoundTrip(t *testing.T) {
	id := ID{Digest: digest32(0x42), Size: 12345}
	target := SymlinkTarget(".frz", "blake3", id)
	base32, err := ParseSymlinkTarget(".frz", "blake3", target)
	if err != nil {
		t.Fatalf("ParseSymlinkTarget failed: %v", err)
	}
	if base32 != id.Encode() {
		t.Fatalf("parsed base32 %q != encoded %q", base32, id.Encode())
	}
}

func TestParseSymlinkTargetRejectsWrongShape(t *testing.T) {
	cases := []string{
		"",
		".frz/blake3/ab",
		".frz/sha256/ab/cd/ef",
		"other/blake3/ab/cd/ef",
		".frz/blake3/a/cd/ef",
		".frz/blake3/ab/cd/ef/extra",
	}
	for _, target := range cases {
		if _, err := ParseSymlinkTarget(".frz", "blake3", target); !errors.Is(err, frzerr.NotOurSymlink) {
			t.Errorf("ParseSymlinkTarget(%q): expected NotOurSymlink, got %v", target, err)
		}
	}
}
