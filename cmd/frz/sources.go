// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/pflag"

	"github.com/kwiberg/frz/lib/repo"
)

// sourceSpecs implements pflag.Value for --copy-from and --move-from.
// Both flags are registered against the same *sourceSpecs, with
// readOnly fixed per registration, so that the accumulated slice
// preserves the command-line order across both flag names — the order
// fill and repair try locators in.
type sourceSpecs struct {
	specs    *[]repo.ContentSourceSpec
	readOnly bool
}

func (s *sourceSpecs) String() string {
	return ""
}

func (s *sourceSpecs) Set(dir string) error {
	*s.specs = append(*s.specs, repo.ContentSourceSpec{Dir: dir, ReadOnly: s.readOnly})
	return nil
}

func (s *sourceSpecs) Type() string {
	return "dir"
}

// addSourceFlags registers --copy-from and --move-from against fs,
// both appending to the same ordered slice of specs.
func addSourceFlags(fs *pflag.FlagSet, specs *[]repo.ContentSourceSpec) {
	fs.Var(&sourceSpecs{specs: specs, readOnly: true}, "copy-from", "read-only content source directory, repeatable")
	fs.Var(&sourceSpecs{specs: specs, readOnly: false}, "move-from", "content source directory to move matches out of, repeatable")
}
