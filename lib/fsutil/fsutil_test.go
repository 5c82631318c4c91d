// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRelativeSubtreePath(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c.txt")

	rel, ok := RelativeSubtreePath(nested, root)
	if !ok {
		t.Fatalf("expected path to be recognized as below root")
	}
	if rel != filepath.Join("a", "b", "c.txt") {
		t.Fatalf("unexpected relative path: %q", rel)
	}
}

func TestRelativeSubtreePathOutsideSubtree(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "sibling", "file.txt")

	if _, ok := RelativeSubtreePath(outside, root); ok {
		t.Fatalf("expected outside path to be rejected")
	}
}

func TestRelativeSubtreePathRoot(t *testing.T) {
	root := t.TempDir()
	rel, ok := RelativeSubtreePath(root, root)
	if !ok {
		t.Fatalf("expected the root itself to resolve")
	}
	if rel != "." {
		t.Fatalf("expected '.', got %q", rel)
	}
}

func TestIsReadonly(t *testing.T) {
	if !IsReadonly(0o444) {
		t.Fatalf("0o444 should be readonly")
	}
	if IsReadonly(0o644) {
		t.Fatalf("0o644 should not be readonly")
	}
	if IsReadonly(0o600) {
		t.Fatalf("0o600 should not be readonly")
	}
}

func TestRemoveWritePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := RemoveWritePermissions(path); err != nil {
		t.Fatalf("RemoveWritePermissions: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !IsReadonly(info.Mode()) {
		t.Fatalf("expected file to be readonly after RemoveWritePermissions, mode=%v", info.Mode())
	}
}

func TestRemoveWritePermissionsSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	if err := RemoveWritePermissions(link); err != nil {
		t.Fatalf("RemoveWritePermissions on symlink should be a no-op, got: %v", err)
	}
}
