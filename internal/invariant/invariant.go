// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package invariant provides a single assertion helper for conditions
// that indicate a programming error rather than an environmental
// failure. It is never used for anything an operator or a malformed
// repository can trigger — those paths return errors.
package invariant

import "fmt"

// Check panics with a formatted message if cond is false. Reserved for
// conditions that can only be false due to a bug in this package, never
// due to filesystem state, malformed input, or a concurrent mutation.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("invariant violated: "+format, args...))
	}
}
