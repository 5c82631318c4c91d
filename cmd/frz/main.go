// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// frz tracks large files by replacing them with symlinks into a
// content-addressed blob store, alongside an external VCS like git.
//
// Usage:
//
//	frz add <path>...
//	frz fill [path] [--copy-from DIR]... [--move-from DIR]...
//	frz repair [path] [--fast] [--copy-from DIR]... [--move-from DIR]...
//	frz status [path]
//	frz fsck --explain <path>
//	frz version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kwiberg/frz/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	logLevel := slog.LevelInfo
	if os.Getenv("FRZ_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var err error
	exitCode := 0
	switch cmd {
	case "add":
		exitCode, err = runAdd(args, logger)
	case "fill":
		exitCode, err = runFill(args, logger)
	case "repair":
		exitCode, err = runRepair(args, logger)
	case "status":
		exitCode, err = runStatus(args, logger)
	case "fsck":
		exitCode, err = runFsck(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("frz %s\n", version.Info())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		exitCode = 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func printUsage() {
	fmt.Print(`frz - track large files as symlinks into a content-addressed blob store

USAGE
    frz add <path>...
    frz fill [path] [--copy-from DIR]... [--move-from DIR]...
    frz repair [path] [--fast] [--copy-from DIR]... [--move-from DIR]...
    frz status [path]
    frz fsck --explain <path>
    frz version

COMMANDS
    add       Move files into the content store, replacing them with symlinks
    fill      Fetch missing content without re-verifying what is already there
    repair    Verify index entries and content, then fetch what's missing
    status    Print a read-only summary of tracked files
    fsck      Explain how one symlink resolves, without mutating anything
    version   Show version

For fill and repair, --copy-from/--move-from may repeat; the order they
appear in on the command line is the priority order locators are tried.
`)
}
