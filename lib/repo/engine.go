// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repo implements the repository engine: discovery of
// repositories rooted at a metadata directory, and the add/fill/repair
// state machines that operate on them.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kwiberg/frz/internal/frzerr"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/stream"
	"github.com/kwiberg/frz/lib/vcs"
	"github.com/kwiberg/frz/lib/worker"
)

// MetadataDirName is the name of a repository's metadata directory,
// a real directory only at the repository root; every other directory
// in the tree has a symlink of the same name pointing back at it.
const MetadataDirName = ".frz"

// Engine discovers repositories and caches them by canonical
// directory path, so that multiple working paths sharing an ancestor
// share a single Repository instance. The cache is strictly a lookup:
// children never hold pointers back to parents, and reuse happens by
// repeating the lookup, not by an ownership cycle.
type Engine struct {
	mu    sync.Mutex
	repos map[string]*repoRef

	streamer stream.Streamer
	worker   *worker.Worker
	factory  hasher.Factory
	hashName string
	vcs      vcs.Collaborator
	logger   *slog.Logger
}

type repoRef struct {
	repo  *Repository
	level int // hop count from this directory up to the repository root
}

// New returns an Engine. hashName is the plain identifier used both as
// the index subdirectory name and as the hash-name component of
// symlink targets (e.g. "blake3"); factory must produce digests of the
// width this name implies. The Engine owns w for as long as it is in
// use; callers that pass w themselves are responsible for closing it.
func New(streamer stream.Streamer, w *worker.Worker, factory hasher.Factory, hashName string, vcsCollab vcs.Collaborator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if vcsCollab == nil {
		vcsCollab = vcs.None{}
	}
	return &Engine{
		repos:    make(map[string]*repoRef),
		streamer: streamer,
		worker:   w,
		factory:  factory,
		hashName: hashName,
		vcs:      vcsCollab,
		logger:   logger,
	}
}

// canonicalDir resolves path to the canonical (symlink-free) directory
// that discovery should start searching from: path itself if it is a
// directory, or its parent otherwise. A leaf symlink is therefore
// dereferenced to its parent before the search starts, matching the
// VCS collaborator's discovery contract in §4.8.
func canonicalDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// isMetadataRoot reports whether dir has a real (non-symlink)
// metadata directory as an immediate child, making dir a repository
// root.
func isMetadataRoot(dir string) bool {
	info, err := os.Lstat(filepath.Join(dir, MetadataDirName))
	if err != nil {
		return false
	}
	return info.IsDir() && info.Mode()&os.ModeSymlink == 0
}

// FindMetadataDir walks upward from path looking for a repository
// root, the same way Discover does, but without requiring an Engine.
// It exists so a caller can load a repository's configuration file
// before it has enough information (the hash family) to construct an
// Engine at all.
func FindMetadataDir(path string) (string, error) {
	dir, err := canonicalDir(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %q: %v", frzerr.RepositoryNotFound, path, err)
	}
	for {
		if isMetadataRoot(dir) {
			return filepath.Join(dir, MetadataDirName), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s directory found above %q", frzerr.RepositoryNotFound, MetadataDirName, path)
		}
		dir = parent
	}
}

// Discover finds the repository that owns path, and how many
// directory levels separate path's directory from the repository
// root.
func (e *Engine) Discover(path string) (*Repository, int, error) {
	dir, err := canonicalDir(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: resolving %q: %v", frzerr.RepositoryNotFound, path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discoverLocked(dir, path)
}

func (e *Engine) discoverLocked(dir, originalPath string) (*Repository, int, error) {
	if ref, ok := e.repos[dir]; ok {
		return ref.repo, ref.level, nil
	}

	if isMetadataRoot(dir) {
		repository := newRepository(dir, e.streamer, e.worker, e.factory, e.hashName, e.vcs, e.logger)
		e.repos[dir] = &repoRef{repo: repository, level: 0}
		return repository, 0, nil
	}

	parent := filepath.Dir(dir)
	if parent == dir {
		return nil, 0, fmt.Errorf("%w: no %s directory found above %q", frzerr.RepositoryNotFound, MetadataDirName, originalPath)
	}
	repository, level, err := e.discoverLocked(parent, originalPath)
	if err != nil {
		return nil, 0, err
	}
	level++
	e.repos[dir] = &repoRef{repo: repository, level: level}
	return repository, level, nil
}

// AddSummary aggregates the results of a bulk Add call.
type AddSummary struct {
	Successful int64
	Duplicates int64
	NonFiles   int64
	Errors     int64
}

// Add runs the add state machine (§4.6.1) over every path, recursing
// into directories. Per-file errors are logged and counted rather than
// aborting the whole call; the VCS collaborator is flushed once per
// repository touched, after all paths have been processed.
func (e *Engine) Add(paths []string) AddSummary {
	var summary AddSummary
	touched := make(map[*Repository]bool)

	for _, path := range paths {
		repository, level, err := e.Discover(path)
		if err != nil {
			e.logger.Warn("add: repository discovery failed", "path", path, "error", err)
			summary.Errors++
			continue
		}
		touched[repository] = true
		e.addPath(repository, path, level, &summary)
	}

	for repository := range touched {
		if err := repository.vcs.Flush(context.Background()); err != nil {
			e.logger.Warn("add: VCS flush failed", "error", err)
		}
	}
	return summary
}

func (e *Engine) addPath(repository *Repository, path string, level int, summary *AddSummary) {
	info, err := os.Lstat(path)
	if err != nil {
		e.logger.Warn("add: failed", "path", path, "error", err)
		summary.Errors++
		return
	}

	if !info.IsDir() {
		e.addLeaf(repository, path, level, summary)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		e.logger.Warn("add: failed", "path", path, "error", err)
		summary.Errors++
		return
	}
	ctx := context.Background()
	for _, entry := range entries {
		if entry.Name() == MetadataDirName {
			continue
		}
		child := filepath.Join(path, entry.Name())
		if repository.vcs.IsIgnored(ctx, child) {
			continue
		}

		childInfo, err := entry.Info()
		if err != nil {
			e.logger.Warn("add: skipping unreadable entry", "path", child, "error", err)
			summary.Errors++
			continue
		}
		if childInfo.IsDir() {
			e.addPath(repository, child, level+1, summary)
			continue
		}
		if !childInfo.Mode().IsRegular() && childInfo.Mode()&os.ModeSymlink == 0 {
			continue
		}
		e.addLeaf(repository, child, level, summary)
	}
}

func (e *Engine) addLeaf(repository *Repository, path string, level int, summary *AddSummary) {
	result, err := repository.addFile(path, level)
	if err != nil {
		e.logger.Warn("add: failed", "path", path, "error", err)
		summary.Errors++
		return
	}
	switch result {
	case NewFile:
		summary.Successful++
	case DuplicateFile:
		summary.Duplicates++
	case Symlink:
		summary.NonFiles++
	}
}
