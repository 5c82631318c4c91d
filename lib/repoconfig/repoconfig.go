// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repoconfig loads a repository's optional configuration
// file, ".frz/config.yaml". Absence of the file is not an error:
// compiled-in defaults reproduce the original tool's hard-coded hash
// family and buffer sizing exactly.
package repoconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kwiberg/frz/lib/hasher"
)

// FileName is the configuration file's name within the metadata
// directory.
const FileName = "config.yaml"

// StreamConfig controls the multi-threaded streamer's buffer pool.
type StreamConfig struct {
	Buffers     int `yaml:"buffers"`
	BufferBytes int `yaml:"buffer_bytes"`
}

// Config is a repository's on-disk configuration.
type Config struct {
	// Hash names both the index subdirectory and the digest family
	// (see lib/hasher.Factories). Defaults to "blake3".
	Hash string `yaml:"hash"`

	// Stream controls the multi-threaded streamer's buffer pool.
	// Defaults to 4 buffers of 1 MiB each, matching the original
	// tool's hard-coded constants.
	Stream StreamConfig `yaml:"stream"`
}

// Default returns the configuration that applies when no config file
// is present, matching the original implementation's compiled-in
// constants bit for bit.
func Default() Config {
	return Config{
		Hash: "blake3",
		Stream: StreamConfig{
			Buffers:     4,
			BufferBytes: 1 << 20,
		},
	}
}

// Load reads metadataDir/config.yaml, if present, merging it over
// Default(). A missing file is not an error.
func Load(metadataDir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(metadataDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Hash == "" {
		cfg.Hash = "blake3"
	}
	if cfg.Stream.Buffers <= 0 {
		cfg.Stream.Buffers = 4
	}
	if cfg.Stream.BufferBytes <= 0 {
		cfg.Stream.BufferBytes = 1 << 20
	}
	return cfg, nil
}

// HashFactory resolves the configured hash family against
// hasher.Factories.
func (c Config) HashFactory() (hasher.Factory, error) {
	factory, ok := hasher.Factories[c.Hash]
	if !ok {
		return hasher.Factory{}, fmt.Errorf("unknown hash family %q", c.Hash)
	}
	return factory, nil
}
