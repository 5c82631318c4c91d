// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"
)

// zstdMagic is the four-byte frame header klauspost/compress/zstd (and
// every other zstd implementation) writes at the start of a frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// previewBytes caps how much decompressed output --explain shows, so
// inspecting a multi-gigabyte blob doesn't flood the terminal.
const previewBytes = 256

// explainZstdPreview checks whether blobPath looks zstd-framed and, if
// so, prints a short preview of its decompressed contents; it prints
// nothing for other blobs. frz itself
// never compresses anything (file-granularity, no chunk dedup); this
// exists only so operators inspecting data that arrived pre-compressed
// from another tool don't need a separate utility.
func explainZstdPreview(blobPath string) error {
	f, err := os.Open(blobPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var magic [4]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	if n < len(magic) || !bytes.Equal(magic[:], zstdMagic) {
		return nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	decoder, err := zstd.NewReader(f)
	if err != nil {
		fmt.Printf("  looks zstd-framed, but failed to open a decoder: %v\n", err)
		return nil
	}
	defer decoder.Close()

	preview := make([]byte, previewBytes)
	read, err := io.ReadFull(decoder, preview)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		fmt.Printf("  looks zstd-framed, but failed to decompress: %v\n", err)
		return nil
	}
	fmt.Printf("  zstd-framed; decompressed preview (%d bytes): %q\n", read, preview[:read])
	return nil
}

// runFsck implements "frz fsck --explain <path>": trace one symlink
// through indirection, index, and content without mutating anything.
func runFsck(args []string, logger *slog.Logger) (int, error) {
	fs := pflag.NewFlagSet("fsck", pflag.ContinueOnError)
	explain := fs.Bool("explain", false, "trace a single symlink through the index and content store")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if !*explain {
		return 1, fmt.Errorf("fsck requires --explain <path>")
	}

	rest := fs.Args()
	if len(rest) != 1 {
		return 1, fmt.Errorf("--explain takes exactly one path")
	}
	path := rest[0]

	engine, closeEngine, err := newEngine(path, logger)
	if err != nil {
		return 1, err
	}
	defer closeEngine()

	repository, _, err := engine.Discover(path)
	if err != nil {
		return 1, err
	}

	result, err := repository.Explain(path)
	if err != nil {
		return 1, err
	}
	fmt.Printf("symlink: %s\n", result.SymlinkPath)
	fmt.Printf("  target: %s\n", result.SymlinkTarget)
	fmt.Printf("  id: %s (%d bytes)\n", result.ID.Encode(), result.ID.Size)
	fmt.Printf("  index entry: %s\n", result.IndexEntryPath)
	if result.BlobPath == "" {
		fmt.Println("  index entry missing")
		return 1, nil
	}
	fmt.Printf("  blob: %s\n", result.BlobPath)
	fmt.Printf("  blob exists: %v\n", result.BlobExists)
	if !result.BlobExists {
		return 1, nil
	}
	if err := explainZstdPreview(result.BlobPath); err != nil {
		logger.Warn("fsck: failed to inspect blob for a zstd preview", "path", result.BlobPath, "error", err)
	}
	return 0, nil
}
