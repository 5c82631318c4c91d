// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/kwiberg/frz/lib/repo"
)

// runRepair implements "frz repair [path] [--fast] [--copy-from DIR]...
// [--move-from DIR]...". Exit code is 0 iff still_missing == 0.
func runRepair(args []string, logger *slog.Logger) (int, error) {
	fs := pflag.NewFlagSet("repair", pflag.ContinueOnError)
	fast := fs.Bool("fast", false, "skip full content re-hashing; only check size and a first-byte smoke test")
	var specs []repo.ContentSourceSpec
	addSourceFlags(fs, &specs)
	if err := fs.Parse(args); err != nil {
		return 1, err
	}

	path := "."
	if rest := fs.Args(); len(rest) > 0 {
		path = rest[0]
	}

	engine, closeEngine, err := newEngine(path, logger)
	if err != nil {
		return 1, err
	}
	defer closeEngine()

	repository, _, err := engine.Discover(path)
	if err != nil {
		return 1, err
	}

	result, err := repository.Repair(!*fast, specs)
	if err != nil {
		return 1, err
	}
	fmt.Printf("good %d, bad %d, missing %d, duplicate %d, stray %d, fetched %d, still missing %d\n",
		result.GoodIndexSymlinks, result.BadIndexSymlinks, result.MissingIndexSymlinks,
		result.DuplicateContentFiles, result.StrayTempFiles, result.Fetched, result.StillMissing)

	if result.StillMissing != 0 {
		return 1, nil
	}
	return 0, nil
}
