// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

// runAdd implements "frz add <path>...". Exit code is 0 iff no
// per-file errors occurred.
func runAdd(args []string, logger *slog.Logger) (int, error) {
	if len(args) == 0 {
		return 1, fmt.Errorf("add requires at least one path")
	}

	// Bootstrap from the first path's directory rather than the path
	// itself: a path being added need not exist yet for discovery and
	// config-loading to succeed, and a missing one is reported per-file
	// below rather than as a startup error.
	engine, closeEngine, err := newEngine(filepath.Dir(args[0]), logger)
	if err != nil {
		return 1, err
	}
	defer closeEngine()

	summary := engine.Add(args)
	fmt.Printf("added %d, duplicates %d, skipped %d, errors %d\n",
		summary.Successful, summary.Duplicates, summary.NonFiles, summary.Errors)

	if summary.Errors != 0 {
		return 1, nil
	}
	return 0, nil
}
