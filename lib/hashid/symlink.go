// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hashid

import (
	"fmt"
	"strings"

	"github.com/kwiberg/frz/internal/frzerr"
)

// ParseSymlinkTarget recognizes a user-facing symlink target of the
// form <metadataName>/<hashName>/<2>/<2>/<rest> and returns the
// concatenated base-32 string. It returns frzerr.NotOurSymlink for
// anything that does not match the grammar — including targets with
// the wrong metadata or hash-family name, the wrong number of
// components, or shard components that are not exactly two base-32
// digits.
func ParseSymlinkTarget(metadataName, hashName, target string) (string, error) {
	elements := strings.Split(strings.TrimPrefix(target, "./"), "/")
	want := 2 + ShardSubdirs + 1
	if len(elements) != want {
		return "", fmt.Errorf("parsing symlink target %q: expected %d path elements, got %d: %w",
			target, want, len(elements), frzerr.NotOurSymlink)
	}
	if elements[0] != metadataName {
		return "", fmt.Errorf("parsing symlink target %q: expected metadata directory %q: %w",
			target, metadataName, frzerr.NotOurSymlink)
	}
	if elements[1] != hashName {
		return "", fmt.Errorf("parsing symlink target %q: expected hash family %q: %w",
			target, hashName, frzerr.NotOurSymlink)
	}

	var base32 strings.Builder
	for i := 0; i < ShardSubdirs; i++ {
		shard := elements[2+i]
		if len(shard) != ShardDigits || !IsBase32Digits(shard) {
			return "", fmt.Errorf("parsing symlink target %q: shard component %q is not %d base-32 digits: %w",
				target, shard, ShardDigits, frzerr.NotOurSymlink)
		}
		base32.WriteString(shard)
	}

	rest := elements[len(elements)-1]
	if !IsBase32Digits(rest) {
		return "", fmt.Errorf("parsing symlink target %q: remainder %q is not base-32: %w",
			target, rest, frzerr.NotOurSymlink)
	}
	base32.WriteString(rest)

	return base32.String(), nil
}

// SymlinkTarget builds the user-facing symlink target string for the
// given content ID, hashed with hashName, inside a metadata directory
// named metadataName: <metadataName>/<hashName>/<2>/<2>/<rest>.
func SymlinkTarget(metadataName, hashName string, id ID) string {
	shards := ShardPath(id.Encode())
	return strings.Join(append([]string{metadataName, hashName}, shards...), "/")
}
