// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hasher wraps incremental cryptographic hash implementations
// behind a narrow capability the repository engine depends on, and
// provides SizeHasher, a stream.Sink that turns any such hash into a
// content ID.
package hasher

import (
	"hash"

	"github.com/zeebo/blake3"

	"github.com/kwiberg/frz/lib/hashid"
)

// Factory constructs a fresh incremental hash state. The engine is
// generic over this capability; the content ID's digest width and the
// index path scheme both follow whatever the factory's hash produces.
type Factory struct {
	// Name is the plain identifier used both as the index subdirectory
	// name and as the <hash-name> component of symlink targets (e.g.
	// "blake3").
	Name string

	// Bits is the digest width in bits. Must be a positive multiple of 8.
	Bits int

	// New returns a fresh hash.Hash whose Sum has length Bits/8.
	New func() hash.Hash
}

// Blake3_256 is the default hash family: 256-bit BLAKE3.
var Blake3_256 = Factory{
	Name: "blake3",
	Bits: 256,
	New: func() hash.Hash {
		return blake3.New()
	},
}

// Factories maps supported hash-family names to their Factory, for
// config-driven selection (see lib/repoconfig).
var Factories = map[string]Factory{
	Blake3_256.Name: Blake3_256,
}

// SizeHasher streams bytes through a hash while counting them, and
// yields a content ID on Finish. It implements stream.Sink.
type SizeHasher struct {
	factory Factory
	hash    hash.Hash
	size    int64
}

// NewSizeHasher returns a SizeHasher built from factory.
func NewSizeHasher(factory Factory) *SizeHasher {
	return &SizeHasher{factory: factory, hash: factory.New()}
}

// Write implements stream.Sink (and io.Writer). It never fails.
func (h *SizeHasher) Write(p []byte) (int, error) {
	n, err := h.hash.Write(p)
	h.size += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (h *SizeHasher) Size() int64 {
	return h.size
}

// Finish returns the content ID for all bytes written so far. Finish
// may be called more than once; it does not reset the hash state.
func (h *SizeHasher) Finish() hashid.ID {
	digest := h.hash.Sum(nil)
	if len(digest) != h.factory.Bits/8 {
		digest = digest[:h.factory.Bits/8]
	}
	return hashid.ID{Digest: digest, Size: h.size}
}
