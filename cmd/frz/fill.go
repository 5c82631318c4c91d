// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/kwiberg/frz/lib/repo"
)

// runFill implements "frz fill [path] [--copy-from DIR]... [--move-from DIR]...".
// Exit code is 0 iff still_missing == 0.
func runFill(args []string, logger *slog.Logger) (int, error) {
	fs := pflag.NewFlagSet("fill", pflag.ContinueOnError)
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

	result, err := repository.Fill(specs)
	if err != nil {
		return 1, err
	}
	fmt.Printf("fetched %d, still missing %d\n", result.Fetched, result.StillMissing)

	if result.StillMissing != 0 {
		return 1, nil
	}
	return 0, nil
}
