// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frzerr defines the sentinel error values that make up frz's
// error taxonomy. Call sites wrap one of these with fmt.Errorf("...: %w", Sentinel)
// so callers can classify failures with errors.Is while still getting a
// human-readable message with full context.
package frzerr

import "errors"

var (
	// FileExists means a creation failed because the destination already
	// existed. Used only internally: content-store insertion retry, and
	// the add state machine's temporary-rename collision path.
	FileExists = errors.New("destination already exists")

	// IOError wraps an OS-reported failure while reading, writing,
	// renaming, or linking.
	IOError = errors.New("I/O error")

	// StorageError means the content store or hash index is
	// misconfigured or in an inconsistent state (e.g. content/ is not a
	// directory, an index path is not a symlink where one is expected).
	StorageError = errors.New("storage error")

	// PathConflict means a path the engine wanted to create is already
	// occupied by something incompatible with what it needed to create
	// there (e.g. a regular file named .frz inside a subdirectory).
	PathConflict = errors.New("path conflict")

	// BadEncoding means a base-32 content ID failed to decode, or
	// decoded to a non-canonical string.
	BadEncoding = errors.New("bad content id encoding")

	// NotOurSymlink means a symlink target does not match the
	// <metadata>/<hash-name>/<2>/<2>/<rest> grammar.
	NotOurSymlink = errors.New("not a frz-managed symlink")

	// RepositoryNotFound means discovery walked to the filesystem root
	// without finding a metadata directory.
	RepositoryNotFound = errors.New("repository not found")
)
