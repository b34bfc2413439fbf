// Package simd implements the capability-dispatch layer (spec C4): feature
// detection chooses the widest lane width with a non-erroring kernel,
// falling back to scalar. Kernels themselves are portable Go loops — no
// assembly — so the dispatch is real while the "vectorization" is the
// lane-width loop structure rather than actual SIMD instructions, matching
// the precision and ordering guarantees the numeric spec requires
// regardless of implementation technique.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package simd

import (
	"github.com/klauspost/cpuid/v2"
)

// Width is a lane-width capability tier.
type Width int

const (
	Scalar Width = iota
	Narrow       // 4 lanes
	Mid          // 8 lanes
	Wide         // 16 lanes
)

func (w Width) Lanes() int {
	switch w {
	case Narrow:
		return 4
	case Mid:
		return 8
	case Wide:
		return 16
	default:
		return 1
	}
}

func (w Width) String() string {
	switch w {
	case Narrow:
		return "narrow"
	case Mid:
		return "mid"
	case Wide:
		return "wide"
	default:
		return "scalar"
	}
}

// Detect reads the host's CPU feature flags and returns the widest
// available width, per spec §4.3: "Choice order: widest width with a
// non-erroring kernel → scalar fallback."
func Detect() Width {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX2):
		return Wide
	case cpuid.CPU.Supports(cpuid.SSE4):
		return Mid
	case cpuid.CPU.Supports(cpuid.SSE2):
		return Narrow
	default:
		return Scalar
	}
}

// Capabilities reports every width for which the host has a non-erroring
// kernel, widest first — batch callers walk this list to find the first
// that does not error for a given operation (e.g. a width whose dimension
// requirements aren't met by an odd vector length).
func Capabilities() []Width {
	widest := Detect()
	out := []Width{widest}
	for w := widest - 1; w > Scalar; w-- {
		out = append(out, w)
	}
	out = append(out, Scalar)
	return out
}
