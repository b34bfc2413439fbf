// Package mono mirrors the teacher's cmn/mono helper: a monotonic
// nanosecond clock independent of wall-clock adjustments, used everywhere
// a duration or ordering decision is made (journal sequencing, batch
// statistics, traversal timeouts).
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start — monotonic,
// cheap, and stable even if the wall clock is stepped.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// SinceNano returns the elapsed nanoseconds since a prior NanoTime() value.
func SinceNano(t int64) int64 { return NanoTime() - t }
