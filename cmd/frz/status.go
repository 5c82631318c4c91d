// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"
)

// runStatus implements "frz status [path]", a read-only summary.
func runStatus(args []string, logger *slog.Logger) (int, error) {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
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

	result, err := repository.Status()
	if err != nil {
		return 1, err
	}
	fmt.Printf("repository: %s\n", repository.Path())
	fmt.Printf("tracked files: %d\n", result.TrackedFiles)
	fmt.Printf("deduplicated bytes: %d\n", result.DeduplicatedBytes)
	return 0, nil
}
