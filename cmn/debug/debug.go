// Package debug provides runtime-gated assertions, mirroring the teacher's
// cmn/debug.Assert calls scattered through hot paths — they do nothing
// unless enabled with SetEnabled(true); the check is disabled by default.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package debug

import "fmt"

var enabled = false

// Enabled reports whether assertions are currently active.
func Enabled() bool { return enabled }

// SetEnabled toggles assertion checking at runtime (tests flip this on).
func SetEnabled(v bool) { enabled = v }

// Assert panics with args if enabled and cond is false. A no-op when
// assertions are disabled, so callers must never rely on its side effects.
func Assert(cond bool, args ...any) {
	if enabled && !cond {
		panic(formatAssert(args))
	}
}

// Assertf is the formatted variant.
func Assertf(cond bool, format string, args ...any) {
	if enabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func formatAssert(args []any) string {
	if len(args) == 0 {
		return "assertion failed"
	}
	return fmt.Sprintln(append([]any{"assertion failed:"}, args...)...)
}
