// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vcs treats an external version-control tool as an opaque
// collaborator: ignore-rule lookup and staging of paths the repository
// engine has just turned into symlinks. The engine tolerates its
// complete absence.
package vcs

import "context"

// Collaborator is the narrow interface the repository engine uses to
// stay out of the way of whatever VCS (if any) the user layers on top
// of a repository.
type Collaborator interface {
	// Discover walks upward from path looking for a VCS root. It
	// returns ok=false if no VCS is present above path.
	Discover(ctx context.Context, path string) (root string, ok bool)

	// IsIgnored reports whether path is excluded by the VCS's ignore
	// rules. It reports false if path is not under a VCS root.
	IsIgnored(ctx context.Context, path string) bool

	// Stage records that path should be included in the VCS's next
	// commit. It is a no-op if path is not under a VCS root.
	Stage(ctx context.Context, path string) error

	// Flush persists whatever Stage calls have accumulated. It is a
	// no-op for backends with no buffering step of their own.
	Flush(ctx context.Context) error
}

// None is a Collaborator for repositories with no VCS at all: every
// method is a silent success, matching spec.md §4.8's "if no VCS is
// present, every operation is a silent success."
type None struct{}

func (None) Discover(context.Context, string) (string, bool) { return "", false }
func (None) IsIgnored(context.Context, string) bool          { return false }
func (None) Stage(context.Context, string) error             { return nil }
func (None) Flush(context.Context) error                     { return nil }
