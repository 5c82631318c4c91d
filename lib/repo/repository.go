// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kwiberg/frz/internal/frzerr"
	"github.com/kwiberg/frz/lib/contentstore"
	"github.com/kwiberg/frz/lib/fsutil"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/hashid"
	"github.com/kwiberg/frz/lib/hashindex"
	"github.com/kwiberg/frz/lib/locator"
	"github.com/kwiberg/frz/lib/stream"
	"github.com/kwiberg/frz/lib/vcs"
	"github.com/kwiberg/frz/lib/worker"
)

// contentDirName and unusedContentDirName are the two blob areas a
// repository maintains, per the filesystem layout in §6.
const (
	contentDirName       = "content"
	unusedContentDirName = "unused-content"
)

// Repository is a single frz repository rooted at Path. Use Engine to
// obtain one; Repository is not constructed directly by callers.
type Repository struct {
	path         string
	hashIndex    hashindex.Index
	contentStore *contentstore.Store
	unusedStore  *contentstore.Store
	streamer     stream.Streamer
	worker       *worker.Worker
	factory      hasher.Factory
	hashName     string
	vcs          vcs.Collaborator
	logger       *slog.Logger
}

func newRepository(path string, streamer stream.Streamer, w *worker.Worker, factory hasher.Factory, hashName string, vcsCollab vcs.Collaborator, logger *slog.Logger) *Repository {
	metaDir := filepath.Join(path, MetadataDirName)
	return &Repository{
		path:         path,
		hashIndex:    hashindex.NewDiskIndex(filepath.Join(metaDir, hashName), factory.Bits),
		contentStore: contentstore.New(filepath.Join(metaDir, contentDirName)),
		unusedStore:  contentstore.New(filepath.Join(metaDir, unusedContentDirName)),
		streamer:     streamer,
		worker:       w,
		factory:      factory,
		hashName:     hashName,
		vcs:          vcsCollab,
		logger:       logger,
	}
}

// Path returns the repository's root directory.
func (r *Repository) Path() string {
	return r.path
}

// AddResult is the outcome of adding one file.
type AddResult int

const (
	// NewFile means the file's content was new and is now the sole
	// occupant of a content-store blob.
	NewFile AddResult = iota

	// DuplicateFile means the file's content matched an existing blob;
	// the would-be duplicate was demoted into unused-content.
	DuplicateFile

	// Symlink means the path was already a symlink; add is a no-op.
	Symlink
)

// indirectionTarget returns the relative symlink target that, placed
// at levels hops below the repository root, points back at the
// metadata directory.
func indirectionTarget(levels int) string {
	parts := make([]string, levels+1)
	for i := 0; i < levels; i++ {
		parts[i] = ".."
	}
	parts[levels] = MetadataDirName
	return filepath.Join(parts...)
}

// ensureIndirection implements §4.7: idempotently maintains the
// <dir>/.frz symlink that lets files anywhere in the tree resolve back
// to the repository's metadata directory.
func (r *Repository) ensureIndirection(dir string, levels int) error {
	if levels == 0 {
		return nil
	}
	link := filepath.Join(dir, MetadataDirName)
	target := indirectionTarget(levels)

	lst, err := os.Lstat(link)
	switch {
	case err == nil:
		if lst.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("%w: %q already exists and is not a symlink", frzerr.PathConflict, link)
		}
		existing, err := os.Readlink(link)
		if err != nil {
			return fmt.Errorf("%w: reading indirection symlink %q: %v", frzerr.IOError, link, err)
		}
		if existing == target {
			return nil
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("%w: removing stale indirection symlink %q: %v", frzerr.IOError, link, err)
		}
	case os.IsNotExist(err):
		// Fall through to create it.
	default:
		return fmt.Errorf("%w: statting %q: %v", frzerr.IOError, link, err)
	}

	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("%w: creating indirection symlink %q: %v", frzerr.IOError, link, err)
	}
	return nil
}

// addFile runs the per-file state machine in §4.6.1. levels is the hop
// count from file's directory up to the repository root.
func (r *Repository) addFile(file string, levels int) (AddResult, error) {
	dir := filepath.Dir(file)
	if err := r.ensureIndirection(dir, levels); err != nil {
		return 0, err
	}

	lst, err := os.Lstat(file)
	if err != nil {
		return 0, fmt.Errorf("%w: statting %q: %v", frzerr.IOError, file, err)
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		return Symlink, nil
	}
	if !lst.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %q is neither a regular file nor a symlink", frzerr.IOError, file)
	}

	f, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("%w: opening %q: %v", frzerr.IOError, file, err)
	}
	h := hasher.NewSizeHasher(r.factory)
	streamErr := r.streamer.Stream(stream.NewReaderSource(f), h, nil)
	f.Close()
	if streamErr != nil {
		return 0, fmt.Errorf("%w: hashing %q: %v", frzerr.IOError, file, streamErr)
	}
	id := h.Finish()

	tempPath := file + ".frz-" + r.hashName + "-" + id.Encode()
	if _, err := os.Lstat(tempPath); err == nil {
		return 0, fmt.Errorf("%w: temporary rename target %q already exists", frzerr.FileExists, tempPath)
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: statting %q: %v", frzerr.IOError, tempPath, err)
	}
	if err := os.Rename(file, tempPath); err != nil {
		return 0, fmt.Errorf("%w: renaming %q to %q: %v", frzerr.IOError, file, tempPath, err)
	}

	target := hashid.SymlinkTarget(MetadataDirName, r.hashName, id)
	if err := os.Symlink(target, file); err != nil {
		os.Rename(tempPath, file)
		return 0, fmt.Errorf("%w: creating symlink %q: %v", frzerr.IOError, file, err)
	}

	blobPath, err := r.contentStore.MoveInsert(tempPath, r.streamer)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting %q into content store: %v", frzerr.StorageError, file, err)
	}

	inserted, err := r.hashIndex.Insert(id, blobPath)
	if err != nil {
		return 0, fmt.Errorf("%w: indexing %q: %v", frzerr.StorageError, file, err)
	}

	result := NewFile
	if !inserted {
		if _, err := r.unusedStore.MoveInsert(blobPath, r.streamer); err != nil {
			return 0, fmt.Errorf("%w: demoting duplicate blob for %q: %v", frzerr.StorageError, file, err)
		}
		result = DuplicateFile
	}

	if err := r.vcs.Stage(context.Background(), file); err != nil {
		r.logger.Warn("add: failed to stage file with VCS collaborator", "path", file, "error", err)
	}
	return result, nil
}

// ContentSource answers Fetch requests during fill and repair; both
// locator.Locator and the implicit unused-content area satisfy it.
type ContentSource interface {
	Fetch(id hashid.ID, store *contentstore.Store) (string, bool, error)
}

// ContentSourceSpec names an external directory fill/repair may draw
// missing content from, and whether it may be mutated (moved from) or
// only read (copied from). Order matters: sources are tried in the
// order given, with unused-content implicitly prepended as the
// highest-priority source.
type ContentSourceSpec struct {
	Dir      string
	ReadOnly bool
}

func (r *Repository) buildSources(specs []ContentSourceSpec) []ContentSource {
	sources := make([]ContentSource, 0, len(specs)+1)
	if info, err := os.Stat(r.unusedStore.Dir()); err == nil && info.IsDir() {
		sources = append(sources, locator.New(r.unusedStore.Dir(), false, r.factory, r.streamer, r.worker, r.logger))
	}
	for _, spec := range specs {
		sources = append(sources, locator.New(spec.Dir, spec.ReadOnly, r.factory, r.streamer, r.worker, r.logger))
	}
	return sources
}

// FillResult is the outcome of fill or repair's content-fetching phase.
type FillResult struct {
	Fetched      int64
	StillMissing int64
}

// walkSymlinks visits every symlink in the repository tree outside the
// metadata subtree and outside nested repositories, calling visit with
// the symlink's containing directory, that directory's level (hop
// count to the repository root), and the symlink's file name.
func (r *Repository) walkSymlinks(visit func(dir string, level int, name string) error) error {
	return r.walkDir(r.path, 0, visit)
}

func (r *Repository) walkDir(dir string, level int, visit func(dir string, level int, name string) error) error {
	if level > 0 && isMetadataRoot(dir) {
		return nil // a nested repository; leave it to its own engine.
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: reading %q: %v", frzerr.IOError, dir, err)
	}
	for _, entry := range entries {
		if entry.Name() == MetadataDirName {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("skipping unreadable directory entry", "path", full, "error", err)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if err := visit(dir, level, entry.Name()); err != nil {
				return err
			}
			continue
		}
		if info.IsDir() {
			if err := r.walkDir(full, level+1, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchMissing is the traversal shared by fill and repair's Phase C
// (§4.6.2 step 2 / §4.6.3 Phase C): for every user-facing symlink whose
// ID the index doesn't contain, try each source in order.
func (r *Repository) fetchMissing(sources []ContentSource) (FillResult, error) {
	var result FillResult
	err := r.walkSymlinks(func(dir string, level int, name string) error {
		link := filepath.Join(dir, name)
		target, err := os.Readlink(link)
		if err != nil {
			r.logger.Warn("fill: failed to read symlink", "path", link, "error", err)
			return nil
		}
		base32, err := hashid.ParseSymlinkTarget(MetadataDirName, r.hashName, target)
		if err != nil {
			return nil // not one of ours
		}
		id, err := hashid.Decode(r.factory.Bits, base32)
		if err != nil {
			return nil
		}

		if err := r.ensureIndirection(dir, level); err != nil {
			return err
		}

		contains, err := r.hashIndex.Contains(id)
		if err != nil {
			return fmt.Errorf("%w: checking index for %q: %v", frzerr.StorageError, link, err)
		}
		if contains {
			return nil
		}

		for _, source := range sources {
			blobPath, ok, err := source.Fetch(id, r.contentStore)
			if err != nil {
				r.logger.Warn("fill: content source fetch failed", "id", id.Encode(), "error", err)
				continue
			}
			if !ok {
				continue
			}
			inserted, err := r.hashIndex.Insert(id, blobPath)
			if err != nil {
				return fmt.Errorf("%w: indexing fetched content for %q: %v", frzerr.StorageError, link, err)
			}
			if !inserted {
				return fmt.Errorf("%w: fetched content for %q raced with a concurrent insert", frzerr.StorageError, link)
			}
			result.Fetched++
			return nil
		}
		result.StillMissing++
		return nil
	})
	return result, err
}

// Fill runs §4.6.2: fetch missing content without re-verifying what
// the index already claims to have.
func (r *Repository) Fill(specs []ContentSourceSpec) (FillResult, error) {
	return r.fetchMissing(r.buildSources(specs))
}

// RepairResult is the outcome of a full repair run (§4.6.3).
type RepairResult struct {
	GoodIndexSymlinks     int64
	BadIndexSymlinks      int64
	MissingIndexSymlinks  int64
	DuplicateContentFiles int64
	StrayTempFiles        int64
	Fetched               int64
	StillMissing          int64
}

// verifyIndex is Phase A: iterate every index entry, keeping those that
// check out and removing those that don't.
func (r *Repository) verifyIndex(verifyAllHashes bool) (good, bad int64, passed map[string]bool, err error) {
	passed = make(map[string]bool)
	scrubErr := r.hashIndex.Scrub(func(id hashid.ID, path string) bool {
		canonical, ok := r.contentStore.CanonicalPath(path)
		if !ok {
			r.logger.Info("repair: removing index entry pointing outside content/", "id", id.Encode(), "path", path)
			bad++
			return false
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			r.logger.Info("repair: removing index entry whose target is missing or not a regular file", "id", id.Encode(), "path", canonical)
			bad++
			return false
		}
		if info.Size() != id.Size {
			r.logger.Info("repair: removing index entry whose target has the wrong size", "id", id.Encode(), "path", canonical, "expected", id.Size, "actual", info.Size())
			bad++
			return false
		}

		if verifyAllHashes {
			if !r.verifyFullHash(id, path, canonical) {
				bad++
				return false
			}
		} else if !r.verifyFirstByte(id, path, canonical) {
			bad++
			return false
		}

		good++
		passed[canonical] = true
		return true
	})
	return good, bad, passed, scrubErr
}

func (r *Repository) verifyFullHash(id hashid.ID, path, canonical string) bool {
	f, err := os.Open(path)
	if err != nil {
		r.logger.Info("repair: removing index entry; target unreadable", "id", id.Encode(), "path", canonical, "error", err)
		return false
	}
	h := hasher.NewSizeHasher(r.factory)
	streamErr := r.streamer.Stream(stream.NewReaderSource(f), h, nil)
	f.Close()
	if streamErr != nil {
		r.logger.Info("repair: removing index entry; failed to read target", "id", id.Encode(), "path", canonical, "error", streamErr)
		return false
	}
	if !h.Finish().Equal(id) {
		r.logger.Info("repair: removing index entry; target content does not match", "id", id.Encode(), "path", canonical)
		return false
	}
	return true
}

// verifyFirstByte is the "--fast" smoke test: reading the first byte
// must succeed iff the file is supposed to be non-empty.
func (r *Repository) verifyFirstByte(id hashid.ID, path, canonical string) bool {
	f, err := os.Open(path)
	if err != nil {
		r.logger.Info("repair: removing index entry; target unreadable", "id", id.Encode(), "path", canonical, "error", err)
		return false
	}
	defer f.Close()
	var b [1]byte
	n, err := f.Read(b[:])
	if err != nil && err != io.EOF {
		r.logger.Info("repair: removing index entry; failed to read target", "id", id.Encode(), "path", canonical, "error", err)
		return false
	}
	if n == 0 && id.Size >= 1 {
		r.logger.Info("repair: removing index entry; target hit end-of-file immediately", "id", id.Encode(), "path", canonical)
		return false
	}
	if n == 1 && id.Size < 1 {
		r.logger.Info("repair: removing index entry; target should be empty but isn't", "id", id.Encode(), "path", canonical)
		return false
	}
	return true
}

// reconcileOrphans is Phase B: give index entries to content-store
// blobs that lack them, demoting exact duplicates.
func (r *Repository) reconcileOrphans(passed map[string]bool) (missing, duplicate int64, err error) {
	walkErr := r.contentStore.ForEach(func(path, canonical string) error {
		if passed[canonical] {
			return nil
		}

		info, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("%w: statting orphan blob %q: %v", frzerr.StorageError, path, err)
		}
		if !fsutil.IsReadonly(info.Mode()) {
			r.logger.Info("repair: removing write permissions from content file", "path", canonical)
			if err := fsutil.RemoveWritePermissions(path); err != nil {
				return fmt.Errorf("%w: write-protecting %q: %v", frzerr.StorageError, path, err)
			}
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: opening orphan blob %q: %v", frzerr.IOError, path, err)
		}
		h := hasher.NewSizeHasher(r.factory)
		streamErr := r.streamer.Stream(stream.NewReaderSource(f), h, nil)
		f.Close()
		if streamErr != nil {
			return fmt.Errorf("%w: hashing orphan blob %q: %v", frzerr.IOError, path, streamErr)
		}
		id := h.Finish()

		inserted, err := r.hashIndex.Insert(id, path)
		if err != nil {
			return fmt.Errorf("%w: indexing orphan blob %q: %v", frzerr.StorageError, path, err)
		}
		if inserted {
			r.logger.Info("repair: adding missing index entry for orphan content", "id", id.Encode(), "path", canonical)
			missing++
			return nil
		}
		if _, err := r.unusedStore.MoveInsert(path, r.streamer); err != nil {
			return fmt.Errorf("%w: demoting duplicate blob %q: %v", frzerr.StorageError, path, err)
		}
		r.logger.Info("repair: moving duplicate content file to unused-content", "path", canonical, "id", id.Encode())
		duplicate++
		return nil
	})
	return missing, duplicate, walkErr
}

// tempFileInfix is the substring `addFile` splices between a file's
// original name and its content ID while the rename-then-symlink step
// of §4.6.1 is in flight. A working-tree file whose name contains it
// is the leftover of an `add` interrupted between steps 2 and 4.
func (r *Repository) tempFileInfix() string {
	return ".frz-" + r.hashName + "-"
}

// reconcileStrayTempFiles is part of Phase B: sweep the working tree
// (the same subtree walkSymlinks covers) for `addFile` rename targets
// left behind by an `add` that didn't reach the content-store
// move-insert step, per §9's guidance to treat them as orphan blobs.
// Unlike reconcileOrphans, these are moved into unused-content
// directly rather than offered an index entry first: nothing else in
// the repository names them yet, so there is no "duplicate" case to
// detect, and landing them in unused-content makes them available to
// the very next fill or repair's fetch phase without forcing a
// hash-index entry on content whose originating symlink is already
// gone.
func (r *Repository) reconcileStrayTempFiles() (int64, error) {
	infix := r.tempFileInfix()
	var count int64
	err := r.walkFiles(r.path, 0, func(path string) error {
		if !strings.Contains(filepath.Base(path), infix) {
			return nil
		}
		r.logger.Info("repair: recovering stray add temp file", "path", path)
		if _, err := r.unusedStore.MoveInsert(path, r.streamer); err != nil {
			return fmt.Errorf("%w: recovering stray temp file %q: %v", frzerr.StorageError, path, err)
		}
		count++
		return nil
	})
	return count, err
}

// walkFiles visits every regular file in the repository tree outside
// the metadata subtree and outside nested repositories, the same
// scope walkDir visits symlinks in.
func (r *Repository) walkFiles(dir string, level int, visit func(path string) error) error {
	if level > 0 && isMetadataRoot(dir) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: reading %q: %v", frzerr.IOError, dir, err)
	}
	for _, entry := range entries {
		if entry.Name() == MetadataDirName {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("skipping unreadable directory entry", "path", full, "error", err)
			continue
		}
		if info.Mode().IsRegular() {
			if err := visit(full); err != nil {
				return err
			}
			continue
		}
		if info.IsDir() {
			if err := r.walkFiles(full, level+1, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Repair runs all three phases of §4.6.3 in order.
func (r *Repository) Repair(verifyAllHashes bool, specs []ContentSourceSpec) (RepairResult, error) {
	good, bad, passed, err := r.verifyIndex(verifyAllHashes)
	if err != nil {
		return RepairResult{}, err
	}

	missing, duplicate, err := r.reconcileOrphans(passed)
	result := RepairResult{
		GoodIndexSymlinks:     good,
		BadIndexSymlinks:      bad,
		MissingIndexSymlinks:  missing,
		DuplicateContentFiles: duplicate,
	}
	if err != nil {
		return result, err
	}

	stray, err := r.reconcileStrayTempFiles()
	result.StrayTempFiles = stray
	if err != nil {
		return result, err
	}

	fill, err := r.fetchMissing(r.buildSources(specs))
	result.Fetched = fill.Fetched
	result.StillMissing = fill.StillMissing
	return result, err
}

// StatusResult is a read-only summary, per §4.6.4.
type StatusResult struct {
	TrackedFiles      int64
	DeduplicatedBytes int64
}

// Status counts tracked files and bytes saved by deduplication without
// mutating anything.
func (r *Repository) Status() (StatusResult, error) {
	var result StatusResult
	if err := r.walkSymlinks(func(dir string, level int, name string) error {
		result.TrackedFiles++
		return nil
	}); err != nil {
		return StatusResult{}, err
	}

	err := r.unusedStore.ForEach(func(path, canonical string) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: statting %q: %v", frzerr.StorageError, path, err)
		}
		result.DeduplicatedBytes += info.Size()
		return nil
	})
	if err != nil {
		return StatusResult{}, err
	}
	return result, nil
}

// ExplainResult traces one user-facing symlink through the
// indirection, index, and content layers, per §4.6.4.
type ExplainResult struct {
	SymlinkPath    string
	SymlinkTarget  string
	ID             hashid.ID
	IndexEntryPath string
	BlobPath       string
	BlobExists     bool
}

// Explain resolves the chain user-symlink -> indirection ->
// index-entry -> blob for one file, without mutating anything.
func (r *Repository) Explain(path string) (ExplainResult, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return ExplainResult{}, fmt.Errorf("%w: %q is not a symlink: %v", frzerr.PathConflict, path, err)
	}
	base32, err := hashid.ParseSymlinkTarget(MetadataDirName, r.hashName, target)
	if err != nil {
		return ExplainResult{}, err
	}
	id, err := hashid.Decode(r.factory.Bits, base32)
	if err != nil {
		return ExplainResult{}, err
	}

	indexEntry := filepath.Join(append([]string{r.path, MetadataDirName, r.hashName}, hashid.ShardPath(id.Encode())...)...)
	result := ExplainResult{
		SymlinkPath:    path,
		SymlinkTarget:  target,
		ID:             id,
		IndexEntryPath: indexEntry,
	}

	blobTarget, err := os.Readlink(indexEntry)
	if err != nil {
		return result, nil
	}
	resolved := filepath.Join(filepath.Dir(indexEntry), blobTarget)
	result.BlobPath = resolved
	if _, err := os.Stat(resolved); err == nil {
		result.BlobExists = true
	}
	return result, nil
}
