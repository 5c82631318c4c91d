// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentstore implements a write-once, content-addressed
// blob directory. Blobs are inserted by copy, by move (with a
// cross-filesystem fallback to copy), or by a fused hash-and-insert
// stream; once inserted, a blob's write permissions are cleared.
package contentstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/kwiberg/frz/internal/frzerr"
	"github.com/kwiberg/frz/lib/fsutil"
	"github.com/kwiberg/frz/lib/hashid"
	"github.com/kwiberg/frz/lib/stream"
)

// maxShardDepth bounds how many levels of random two-character
// directory sharding a collision retry will widen into; further
// retries keep drawing new names at this depth. The blob directory
// itself is the level-0 case.
const maxShardDepth = 4

// Store is a write-once content-addressed blob directory rooted at
// Dir. The zero value is not usable; construct with New.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. dir is created lazily on first
// insertion; New does not touch the filesystem.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// randomDigit returns a uniformly random base-32 digit whose index
// into hashid.Alphabet lies in [low, high].
func randomDigit(low, high int) (byte, error) {
	span := big.NewInt(int64(high - low + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return hashid.Alphabet[low+int(n.Int64())], nil
}

// suggestDestination generates a candidate path inside the store for
// a new blob, widening the directory sharding by one level each time
// it is called with an increasing depth (capped at maxShardDepth).
// It creates any directory components it invents.
func (s *Store) suggestDestination(depth int) (string, error) {
	dest := s.dir
	for i := 0; i < depth; i++ {
		hi, err := randomDigit(0, 15)
		if err != nil {
			return "", err
		}
		lo, err := randomDigit(0, 31)
		if err != nil {
			return "", err
		}
		dest = filepath.Join(dest, string([]byte{hi, lo}))
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating shard directory: %v", frzerr.StorageError, err)
	}

	hi, err := randomDigit(16, 31)
	if err != nil {
		return "", err
	}
	lo, err := randomDigit(0, 31)
	if err != nil {
		return "", err
	}
	return filepath.Join(dest, string([]byte{hi, lo})), nil
}

// CopyInsert streams source into a freshly-created destination inside
// the store using streamer, retrying with a longer random shard path
// on filename collision. On success the destination's write
// permissions are cleared and its path is returned.
func (s *Store) CopyInsert(source string, streamer stream.Streamer) (string, error) {
	f, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("%w: opening source: %v", frzerr.IOError, err)
	}
	defer f.Close()

	depth := 0
	for {
		dest, err := s.suggestDestination(depth)
		if err != nil {
			return "", err
		}
		if depth < maxShardDepth {
			depth++
		}

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", fmt.Errorf("%w: creating blob file: %v", frzerr.StorageError, err)
		}

		src := stream.NewReaderSource(f)
		sinkErr := streamer.Stream(src, &stream.WriterSink{W: out}, nil)
		closeErr := out.Close()
		if sinkErr != nil {
			os.Remove(dest)
			return "", fmt.Errorf("%w: copying blob: %v", frzerr.IOError, sinkErr)
		}
		if closeErr != nil {
			os.Remove(dest)
			return "", fmt.Errorf("%w: closing blob file: %v", frzerr.IOError, closeErr)
		}
		if err := fsutil.RemoveWritePermissions(dest); err != nil {
			return "", fmt.Errorf("%w: write-protecting blob: %v", frzerr.StorageError, err)
		}
		return dest, nil
	}
}

// MoveInsert moves source into the store by hard-linking then
// unlinking the original, retrying on collision like CopyInsert. If
// source is a symlink, or source and the store are on different
// filesystems, it falls back to CopyInsert.
func (s *Store) MoveInsert(source string, streamer stream.Streamer) (string, error) {
	lst, err := os.Lstat(source)
	if err != nil {
		return "", fmt.Errorf("%w: statting source: %v", frzerr.IOError, err)
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		return s.CopyInsert(source, streamer)
	}
	if !lst.Mode().IsRegular() {
		return "", fmt.Errorf("%w: move-insert source is not a regular file", frzerr.IOError)
	}

	depth := 0
	for {
		dest, err := s.suggestDestination(depth)
		if err != nil {
			return "", err
		}
		if depth < maxShardDepth {
			depth++
		}

		if err := os.Link(source, dest); err != nil {
			var linkErr *os.LinkError
			if errors.As(err, &linkErr) {
				if errors.Is(linkErr.Err, os.ErrExist) || errors.Is(linkErr.Err, unix.EEXIST) {
					continue
				}
				if errors.Is(linkErr.Err, unix.EXDEV) {
					return s.CopyInsert(source, streamer)
				}
			}
			return "", fmt.Errorf("%w: hard-linking blob: %v", frzerr.StorageError, err)
		}
		if err := os.Remove(source); err != nil {
			return "", fmt.Errorf("%w: unlinking moved source: %v", frzerr.IOError, err)
		}
		if err := fsutil.RemoveWritePermissions(dest); err != nil {
			return "", fmt.Errorf("%w: write-protecting blob: %v", frzerr.StorageError, err)
		}
		return dest, nil
	}
}

// StreamInsert allocates a destination inside the store, passes a
// Sink for it to fill to writeTo, and keeps or discards the result
// depending on writeTo's return value. It is used by content locators
// that fuse hashing with insertion on the hot path.
func (s *Store) StreamInsert(writeTo func(sink stream.Sink) (keep bool, err error)) (string, bool, error) {
	depth := 0
	for {
		dest, err := s.suggestDestination(depth)
		if err != nil {
			return "", false, err
		}
		if depth < maxShardDepth {
			depth++
		}

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", false, fmt.Errorf("%w: creating blob file: %v", frzerr.StorageError, err)
		}

		keep, callbackErr := writeTo(&stream.WriterSink{W: out})
		closeErr := out.Close()
		if callbackErr != nil {
			os.Remove(dest)
			return "", false, callbackErr
		}
		if closeErr != nil {
			os.Remove(dest)
			return "", false, fmt.Errorf("%w: closing blob file: %v", frzerr.IOError, closeErr)
		}
		if !keep {
			if err := os.Remove(dest); err != nil {
				return "", false, fmt.Errorf("%w: discarding rejected blob: %v", frzerr.IOError, err)
			}
			return "", false, nil
		}
		if err := fsutil.RemoveWritePermissions(dest); err != nil {
			return "", false, fmt.Errorf("%w: write-protecting blob: %v", frzerr.StorageError, err)
		}
		return dest, true, nil
	}
}

// BeginInsert allocates a fresh destination file inside the store,
// retrying on collision like CopyInsert, and returns it open for
// writing. It is used by callers that need to write a blob's bytes
// over time rather than in one synchronous call — in particular the
// content locator's fused hash-and-insert path, which writes through
// a forked stream's secondary sink. Exactly one of Keep or Discard
// must be called on the returned handle.
func (s *Store) BeginInsert() (*PendingInsert, error) {
	depth := 0
	for {
		dest, err := s.suggestDestination(depth)
		if err != nil {
			return nil, err
		}
		if depth < maxShardDepth {
			depth++
		}

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: creating blob file: %v", frzerr.StorageError, err)
		}
		return &PendingInsert{path: dest, file: out}, nil
	}
}

// PendingInsert is a blob destination allocated by BeginInsert, open
// for writing until finalized by Keep or Discard.
type PendingInsert struct {
	path string
	file *os.File
}

// Path returns the destination path. It is only meaningful after Keep
// has been called successfully.
func (p *PendingInsert) Path() string {
	return p.path
}

// Sink returns a stream.Sink that writes to the pending blob.
func (p *PendingInsert) Sink() stream.Sink {
	return &stream.WriterSink{W: p.file}
}

// Keep closes and write-protects the pending blob, finalizing it as a
// permanent store entry.
func (p *PendingInsert) Keep() error {
	if err := p.file.Close(); err != nil {
		os.Remove(p.path)
		return fmt.Errorf("%w: closing blob file: %v", frzerr.IOError, err)
	}
	if err := fsutil.RemoveWritePermissions(p.path); err != nil {
		return fmt.Errorf("%w: write-protecting blob: %v", frzerr.StorageError, err)
	}
	return nil
}

// Discard closes and removes the pending blob.
func (p *PendingInsert) Discard() error {
	p.file.Close()
	if err := os.Remove(p.path); err != nil {
		return fmt.Errorf("%w: discarding rejected blob: %v", frzerr.IOError, err)
	}
	return nil
}

// ForEach visits every regular file in the store, in the order
// returned by a recursive directory walk. It is a no-op if the store
// directory does not yet exist.
func (s *Store) ForEach(callback func(path, canonicalPath string) error) error {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walking store: %v", frzerr.StorageError, err)
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: statting store entry: %v", frzerr.StorageError, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		canonical, ok := s.CanonicalPath(path)
		if !ok {
			return fmt.Errorf("%w: %q is inside the store but has no canonical path", frzerr.StorageError, path)
		}
		return callback(path, canonical)
	})
}

// CanonicalPath returns file expressed relative to the store root,
// when file lies within the store.
func (s *Store) CanonicalPath(file string) (string, bool) {
	return fsutil.RelativeSubtreePath(file, s.dir)
}

