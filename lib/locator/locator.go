// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package locator implements the directory-based content locator: an
// external directory tree the repository engine can search for blobs
// it is missing, identified by content ID.
package locator

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kwiberg/frz/lib/contentstore"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/hashid"
	"github.com/kwiberg/frz/lib/stream"
	"github.com/kwiberg/frz/lib/worker"
)

// Locator answers Fetch requests by lazily scanning a directory tree,
// grouping candidate files by size, and hashing only the candidates
// whose size matches a requested ID.
type Locator struct {
	dir      string
	readOnly bool
	factory  hasher.Factory
	streamer stream.Streamer
	worker   *worker.Worker
	logger   *slog.Logger

	mu     sync.Mutex
	listed bool
	bySize map[int64][]string
	byHash map[string]string // id.Encode() -> path of a file with that hash
}

// New returns a Locator over dir. If readOnly is true, matching files
// are copied into the store rather than moved, and dir is never
// mutated. streamer is used for hashing and copying candidates when
// readOnly is true, and for inserting already-known matches. When
// readOnly is false, candidates go through a forked stream that reads
// on the calling goroutine and runs its secondary writes on w, which
// the caller owns and closes.
func New(dir string, readOnly bool, factory hasher.Factory, streamer stream.Streamer, w *worker.Worker, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{
		dir:      dir,
		readOnly: readOnly,
		factory:  factory,
		streamer: streamer,
		worker:   w,
		logger:   logger,
		bySize:   make(map[int64][]string),
		byHash:   make(map[string]string),
	}
}

// listFiles populates bySize on first use. Per-file errors (unreadable
// entries, entries removed mid-scan) are logged and skipped.
func (l *Locator) listFiles() {
	if l.listed {
		return
	}
	l.listed = true

	filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping directory entry during locator scan", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(path) // follow symlinks, like the original's is_regular_file
		if err != nil {
			l.logger.Warn("skipping unreadable file during locator scan", "path", path, "error", err)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		l.bySize[info.Size()] = append(l.bySize[info.Size()], path)
		return nil
	})
}

// Fetch looks for a file matching id in the locator's directory and,
// if found, inserts it into store. It returns ok=false, with no error,
// if no matching file is found.
func (l *Locator) Fetch(id hashid.ID, store *contentstore.Store) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.listFiles()

	key := id.Encode()
	if path, ok := l.byHash[key]; ok {
		inserted, err := l.insertKnownMatch(path, store)
		if err != nil {
			return "", false, err
		}
		return inserted, true, nil
	}

	candidates := l.bySize[id.Size]
	for len(candidates) > 0 {
		candidate := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		path, matched, err := l.tryCandidate(candidate, id, store)
		if err != nil {
			l.logger.Warn("skipping candidate during locator fetch", "path", candidate, "error", err)
			continue
		}
		if matched {
			l.bySize[id.Size] = candidates
			return path, true, nil
		}
	}
	l.bySize[id.Size] = candidates
	return "", false, nil
}

// insertKnownMatch inserts a file the locator has already confirmed
// matches the requested ID in an earlier Fetch call.
func (l *Locator) insertKnownMatch(path string, store *contentstore.Store) (string, error) {
	if l.readOnly {
		return store.CopyInsert(path, l.streamer)
	}
	return store.MoveInsert(path, l.streamer)
}

// tryCandidate hashes candidate. If it matches requestedID, the file
// is inserted into the store and its path is returned with matched
// true. Otherwise its computed hash is cached for future Fetch calls
// and matched is false.
//
// In move mode, hashing and insertion happen in the same pass: a
// forked stream feeds the hash as the primary sink (so the full
// digest is always known) and feeds a pending store blob as the
// secondary sink opportunistically. Once the digest is known,
// PrimaryDone decides whether to finish writing the blob (on a match)
// or abandon it (on a mismatch) — avoiding a separate full read of
// the file when the candidate turns out not to be the one requested.
func (l *Locator) tryCandidate(candidate string, requestedID hashid.ID, store *contentstore.Store) (string, bool, error) {
	f, err := os.Open(candidate)
	if err != nil {
		return "", false, fmt.Errorf("opening candidate: %w", err)
	}
	defer f.Close()

	sizeHasher := hasher.NewSizeHasher(l.factory)

	if l.readOnly {
		source := stream.NewReaderSource(f)
		if err := l.streamer.Stream(source, sizeHasher, nil); err != nil {
			return "", false, fmt.Errorf("hashing candidate: %w", err)
		}
		computed := sizeHasher.Finish()
		l.byHash[computed.Encode()] = candidate
		if !computed.Equal(requestedID) {
			return "", false, nil
		}
		path, err := store.CopyInsert(candidate, l.streamer)
		if err != nil {
			return "", false, err
		}
		return path, true, nil
	}

	pending, err := store.BeginInsert()
	if err != nil {
		return "", false, fmt.Errorf("allocating pending blob: %w", err)
	}

	matched := false
	runErr := stream.RunForkedStream(stream.ForkedStreamOptions{
		Source:    stream.NewReaderSource(f),
		Primary:   sizeHasher,
		Secondary: pending.Sink(),
		Worker:    l.worker,
		PrimaryDone: func() stream.ForkDecision {
			computed := sizeHasher.Finish()
			l.byHash[computed.Encode()] = candidate
			if computed.Equal(requestedID) {
				matched = true
				return stream.Finish
			}
			return stream.Abandon
		},
	})
	if runErr != nil {
		pending.Discard()
		return "", false, fmt.Errorf("fused hash-and-insert of candidate: %w", runErr)
	}

	if !matched {
		if err := pending.Discard(); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	if err := pending.Keep(); err != nil {
		return "", false, err
	}
	if err := os.Remove(candidate); err != nil {
		return "", false, fmt.Errorf("removing moved candidate: %w", err)
	}
	return pending.Path(), true, nil
}
