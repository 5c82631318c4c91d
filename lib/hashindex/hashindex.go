// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashindex maps content IDs to blob paths, either purely in
// memory or as a sharded tree of symlinks on disk.
package hashindex

import "github.com/kwiberg/frz/lib/hashid"

// Index maps content IDs to blob paths.
type Index interface {
	// Insert records path under id. It returns true if this is a new
	// entry, false if id was already present (path is ignored in that
	// case). Failures other than "already present" are returned as
	// errors wrapping frzerr.StorageError.
	Insert(id hashid.ID, path string) (bool, error)

	// Contains reports whether id has an entry.
	Contains(id hashid.ID) (bool, error)

	// Scrub removes entries that are not syntactically valid, then
	// calls isGood on every remaining entry and removes those for
	// which it returns false. Scrub may be called repeatedly; it is
	// idempotent.
	Scrub(isGood func(id hashid.ID, path string) bool) error
}
