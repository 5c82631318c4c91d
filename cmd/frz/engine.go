// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kwiberg/frz/lib/repo"
	"github.com/kwiberg/frz/lib/repoconfig"
	"github.com/kwiberg/frz/lib/stream"
	"github.com/kwiberg/frz/lib/vcs"
)

// newEngine loads the configuration of the repository that owns
// startPath and builds an Engine around it. The returned close
// function must be called once the command is done, to release the
// streamer's background goroutine.
func newEngine(startPath string, logger *slog.Logger) (*repo.Engine, func(), error) {
	metaDir, err := repo.FindMetadataDir(startPath)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := repoconfig.Load(metaDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s: %w", filepath.Join(metaDir, repoconfig.FileName), err)
	}
	factory, err := cfg.HashFactory()
	if err != nil {
		return nil, nil, err
	}

	streamer := stream.NewMultiThreadedStreamer(cfg.Stream.Buffers, cfg.Stream.BufferBytes)
	engine := repo.New(streamer, streamer.Worker(), factory, cfg.Hash, vcs.NewGit(), logger)
	return engine, streamer.Close, nil
}
