// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kwiberg/frz/lib/fsutil"
	"github.com/kwiberg/frz/lib/stream"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCopyInsert(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "a.txt", []byte("hello world"))

	s := New(storeDir)
	dest, err := s.CopyInsert(src, stream.NewSingleThreadedStreamer(0))
	if err != nil {
		t.Fatalf("CopyInsert: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile(dest): %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected blob contents: %q", data)
	}

	// Source should still exist (copy, not move).
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("expected source to survive CopyInsert: %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Stat(dest): %v", err)
	}
	if !fsutil.IsReadonly(info.Mode()) {
		t.Fatalf("expected inserted blob to be write-protected, mode=%v", info.Mode())
	}

	canon, ok := s.CanonicalPath(dest)
	if !ok {
		t.Fatalf("expected dest to have a canonical path")
	}
	if filepath.Join(storeDir, canon) != dest {
		t.Fatalf("canonical path %q does not round-trip to %q", canon, dest)
	}
}

func TestMoveInsert(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "a.txt", []byte("move me"))

	s := New(storeDir)
	dest, err := s.MoveInsert(src, stream.NewSingleThreadedStreamer(0))
	if err != nil {
		t.Fatalf("MoveInsert: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source to be gone after MoveInsert, stat err: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile(dest): %v", err)
	}
	if string(data) != "move me" {
		t.Fatalf("unexpected blob contents: %q", data)
	}
}

func TestMoveInsertFallsBackToCopyForSymlink(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()
	target := writeTempFile(t, srcDir, "target.txt", []byte("via symlink"))
	link := filepath.Join(srcDir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	s := New(storeDir)
	dest, err := s.MoveInsert(link, stream.NewSingleThreadedStreamer(0))
	if err != nil {
		t.Fatalf("MoveInsert: %v", err)
	}

	// The symlink itself must survive; only a copy of its target
	// content was inserted.
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("expected symlink to survive move-insert fallback: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile(dest): %v", err)
	}
	if string(data) != "via symlink" {
		t.Fatalf("unexpected blob contents: %q", data)
	}
}

func TestStreamInsertKeep(t *testing.T) {
	storeDir := t.TempDir()
	s := New(storeDir)

	dest, ok, err := s.StreamInsert(func(sink stream.Sink) (bool, error) {
		_, err := sink.Write([]byte("payload"))
		return true, err
	})
	if err != nil {
		t.Fatalf("StreamInsert: %v", err)
	}
	if !ok {
		t.Fatalf("expected StreamInsert to keep the blob")
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile(dest): %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected blob contents: %q", data)
	}
}

func TestStreamInsertDiscard(t *testing.T) {
	storeDir := t.TempDir()
	s := New(storeDir)

	var capturedDir string
	_, ok, err := s.StreamInsert(func(sink stream.Sink) (bool, error) {
		if _, err := sink.Write([]byte("nope")); err != nil {
			return false, err
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("StreamInsert: %v", err)
	}
	if ok {
		t.Fatalf("expected StreamInsert to discard the blob")
	}

	// No regular file should remain anywhere under the store.
	err = s.ForEach(func(path, canonical string) error {
		capturedDir = path
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if capturedDir != "" {
		t.Fatalf("expected no blobs to remain, found %q", capturedDir)
	}
}

func TestForEachVisitsInsertedBlobs(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()
	s := New(storeDir)

	streamer := stream.NewSingleThreadedStreamer(0)
	want := map[string]bool{}
	for i := 0; i < 5; i++ {
		src := writeTempFile(t, srcDir, "f", []byte{byte(i)})
		dest, err := s.CopyInsert(src, streamer)
		if err != nil {
			t.Fatalf("CopyInsert #%d: %v", i, err)
		}
		want[dest] = false
	}

	err := s.ForEach(func(path, canonical string) error {
		if _, ok := want[path]; !ok {
			t.Fatalf("ForEach visited unexpected path %q", path)
		}
		want[path] = true
		if filepath.Join(storeDir, canonical) != path {
			t.Fatalf("canonical path %q does not round-trip for %q", canonical, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	for path, visited := range want {
		if !visited {
			t.Fatalf("ForEach never visited %q", path)
		}
	}
}

func TestBeginInsertKeep(t *testing.T) {
	storeDir := t.TempDir()
	s := New(storeDir)

	pending, err := s.BeginInsert()
	if err != nil {
		t.Fatalf("BeginInsert: %v", err)
	}
	if _, err := pending.Sink().Write([]byte("fused")); err != nil {
		t.Fatalf("writing to pending insert: %v", err)
	}
	if err := pending.Keep(); err != nil {
		t.Fatalf("Keep: %v", err)
	}

	data, err := os.ReadFile(pending.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "fused" {
		t.Fatalf("unexpected contents: %q", data)
	}
	info, err := os.Stat(pending.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !fsutil.IsReadonly(info.Mode()) {
		t.Fatalf("expected kept blob to be write-protected")
	}
}

func TestBeginInsertDiscard(t *testing.T) {
	storeDir := t.TempDir()
	s := New(storeDir)

	pending, err := s.BeginInsert()
	if err != nil {
		t.Fatalf("BeginInsert: %v", err)
	}
	path := pending.Path()
	if _, err := pending.Sink().Write([]byte("nope")); err != nil {
		t.Fatalf("writing to pending insert: %v", err)
	}
	if err := pending.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected discarded blob to be removed")
	}
}

func TestForEachOnMissingStoreIsNoop(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	called := false
	err := s.ForEach(func(path, canonical string) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if called {
		t.Fatalf("expected ForEach to be a no-op on a missing store")
	}
}

func TestCopyInsertCollisionWidensShardDepth(t *testing.T) {
	// Inserting many small files should never fail even though the
	// two-character leaf namespace is small; collisions force the
	// sharding to widen.
	storeDir := t.TempDir()
	srcDir := t.TempDir()
	s := New(storeDir)
	streamer := stream.NewSingleThreadedStreamer(0)

	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		src := writeTempFile(t, srcDir, "f", []byte{byte(i), byte(i >> 8)})
		dest, err := s.CopyInsert(src, streamer)
		if err != nil {
			t.Fatalf("CopyInsert #%d: %v", i, err)
		}
		if seen[dest] {
			t.Fatalf("CopyInsert reused path %q", dest)
		}
		seen[dest] = true
	}
}
