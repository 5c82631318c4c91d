// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hashindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kwiberg/frz/internal/frzerr"
	"github.com/kwiberg/frz/lib/hashid"
)

// DiskIndex is an Index backed by a two-level sharded tree of
// symlinks rooted at Dir. The path of the entry for ID s (base-32) is
// <Dir>/<s[0:2]>/<s[2:4]>/<s[4:]>; the symlink target is the blob's
// path, relative to the symlink's own directory.
type DiskIndex struct {
	dir      string
	hashBits int
}

// NewDiskIndex returns an index rooted at dir, keyed by IDs with the
// given digest width.
func NewDiskIndex(dir string, hashBits int) *DiskIndex {
	return &DiskIndex{dir: dir, hashBits: hashBits}
}

func (d *DiskIndex) entryPath(id hashid.ID) string {
	shards := hashid.ShardPath(id.Encode())
	return filepath.Join(d.dir, filepath.Join(shards...))
}

func (d *DiskIndex) Insert(id hashid.ID, path string) (bool, error) {
	entry := d.entryPath(id)
	if lst, err := os.Lstat(entry); err == nil {
		if lst.Mode()&os.ModeSymlink != 0 {
			return false, nil
		}
		return false, fmt.Errorf("%w: %q exists but is not a symlink", frzerr.StorageError, entry)
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("%w: statting index entry: %v", frzerr.StorageError, err)
	}

	entryDir := filepath.Dir(entry)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return false, fmt.Errorf("%w: creating index shard directory: %v", frzerr.StorageError, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("%w: resolving entry target: %v", frzerr.StorageError, err)
	}
	absEntryDir, err := filepath.Abs(entryDir)
	if err != nil {
		return false, fmt.Errorf("%w: resolving entry directory: %v", frzerr.StorageError, err)
	}
	target, err := filepath.Rel(absEntryDir, absPath)
	if err != nil {
		return false, fmt.Errorf("%w: computing relative symlink target: %v", frzerr.StorageError, err)
	}

	if err := os.Symlink(target, entry); err != nil {
		if os.IsExist(err) {
			// Raced with another inserter; the entry now exists either
			// way, so this is not a new insertion.
			return false, nil
		}
		return false, fmt.Errorf("%w: creating index symlink: %v", frzerr.StorageError, err)
	}
	return true, nil
}

func (d *DiskIndex) Contains(id hashid.ID) (bool, error) {
	entry := d.entryPath(id)
	lst, err := os.Lstat(entry)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: statting index entry: %v", frzerr.StorageError, err)
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		return true, nil
	}
	return false, fmt.Errorf("%w: %q exists but is not a symlink", frzerr.StorageError, entry)
}

func (d *DiskIndex) Scrub(isGood func(id hashid.ID, path string) bool) error {
	stat, err := os.Lstat(d.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: statting index root: %v", frzerr.StorageError, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", frzerr.StorageError, d.dir)
	}
	return d.scrubDir(isGood, d.dir, "")
}

// scrubDir walks one level of the sharded tree. prefix accumulates
// the base-32 digits consumed by the shard directories seen so far;
// once it reaches ShardSubdirs*ShardDigits, entries in dir are leaf
// symlinks rather than further shard directories.
func (d *DiskIndex) scrubDir(isGood func(id hashid.ID, path string) bool, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: reading index directory %q: %v", frzerr.StorageError, dir, err)
	}

	var toRemove []string
	atLeafLevel := len(prefix) == hashid.ShardSubdirs*hashid.ShardDigits

	for _, entry := range entries {
		entryPath := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			toRemove = append(toRemove, entryPath)
			continue
		}

		if atLeafLevel {
			if info.Mode()&os.ModeSymlink == 0 {
				toRemove = append(toRemove, entryPath)
				continue
			}
			id, err := hashid.Decode(d.hashBits, prefix+entry.Name())
			if err != nil {
				toRemove = append(toRemove, entryPath)
				continue
			}
			target, err := os.Readlink(entryPath)
			if err != nil {
				toRemove = append(toRemove, entryPath)
				continue
			}
			resolved := filepath.Join(filepath.Dir(entryPath), target)
			if !isGood(id, resolved) {
				toRemove = append(toRemove, entryPath)
			}
			continue
		}

		if !info.IsDir() {
			toRemove = append(toRemove, entryPath)
			continue
		}
		if len(entry.Name()) != hashid.ShardDigits || !hashid.IsBase32Digits(entry.Name()) {
			toRemove = append(toRemove, entryPath)
			continue
		}
		if err := d.scrubDir(isGood, entryPath, prefix+entry.Name()); err != nil {
			return err
		}
	}

	for _, p := range toRemove {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("%w: removing invalid index entry %q: %v", frzerr.StorageError, p, err)
		}
	}
	return nil
}
