// Package batch implements the batch dispatcher (spec C9): it amortizes
// SIMD/FPU context acquisition across an entire batch instead of per
// vector. RunBatch runs synchronously in chunks of at most a power-of-two
// batch_max; there is no queue for asynchronous batches.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package batch

import (
	"sync"
	"time"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/atomic"
	"github.com/vexfs/vexfs/vector/simd"
)

// minBatchMax / maxBatchMax bound batch_max per spec §4.3: "bounded 8–512,
// rounded to a power of two."
const (
	minBatchMax = 8
	maxBatchMax = 512
)

// ClampBatchMax rounds n up to the next power of two, clamped to [8, 512].
func ClampBatchMax(n int) int {
	if n < minBatchMax {
		n = minBatchMax
	}
	if n > maxBatchMax {
		n = maxBatchMax
	}
	p := 1
	for p < n {
		p <<= 1
	}
	if p > maxBatchMax {
		p = maxBatchMax
	}
	return p
}

// Counters tracks the statistics every batch operation updates (spec §4.3:
// "total_ops, fpu_acquisitions, vectors_processed, ns_elapsed").
type Counters struct {
	TotalOps         atomic.Int64
	FPUAcquisitions  atomic.Int64
	VectorsProcessed atomic.Int64
	NsElapsed        atomic.Int64
}

func (c *Counters) Snapshot() (totalOps, acquisitions, vectors, nsElapsed int64) {
	return c.TotalOps.Load(), c.FPUAcquisitions.Load(), c.VectorsProcessed.Load(), c.NsElapsed.Load()
}

// simdUnit models the scoped, mutually-exclusive SIMD/FPU register context
// acquired once per batch and released on every exit path (spec §4.3
// "Concurrency on FPU/vector-register context").
type simdUnit struct {
	mu sync.Mutex
}

var globalUnit simdUnit

// Guard is a scoped SIMD acquisition token: Acquire happens once at
// construction, Release fires exactly once via Close, on every exit path
// including error, mirroring a Go `defer guard.Close()` at the call site.
type Guard struct {
	width    simd.Width
	released bool
	counters *Counters
}

// AcquireGuard acquires the SIMD unit for the duration of one batch. Callers
// must `defer guard.Close()` immediately after a successful acquire.
func AcquireGuard(width simd.Width, counters *Counters) *Guard {
	globalUnit.mu.Lock()
	counters.FPUAcquisitions.Inc()
	return &Guard{width: width, counters: counters}
}

// Close releases the SIMD unit. Safe to call multiple times; only the first
// call has effect, so a deferred Close after an early-return error path
// never double-unlocks.
func (g *Guard) Close() {
	if g.released {
		return
	}
	g.released = true
	globalUnit.mu.Unlock()
}

// Width reports the lane width this guard was acquired for.
func (g *Guard) Width() simd.Width { return g.width }

// Op is a single batched vector operation: processes up to batchMax vectors
// per invocation, acquiring the SIMD unit exactly once for the whole batch.
type Op func(width simd.Width, batchStart, batchN int) error

// RunBatch drives a batch of size n through fn in chunks of at most
// batchMax, with exactly one SIMD acquisition per chunk (spec §4.3: "the
// batch entry point performs exactly one acquire, processes all N vectors,
// and releases on every exit path").
func RunBatch(n, batchMax int, counters *Counters, fn Op) (processed int, elapsed time.Duration, err error) {
	if n <= 0 {
		return 0, 0, cmn.NewErr(cmn.ErrInvalidParam, "batch: N must be positive")
	}
	batchMax = ClampBatchMax(batchMax)
	width := simd.Detect()
	start := time.Now()
	counters.TotalOps.Inc()

	for off := 0; off < n; off += batchMax {
		chunk := batchMax
		if off+chunk > n {
			chunk = n - off
		}
		if err := runChunk(width, off, chunk, counters, fn); err != nil {
			elapsed = time.Since(start)
			counters.NsElapsed.Add(elapsed.Nanoseconds())
			return processed, elapsed, err
		}
		processed += chunk
		counters.VectorsProcessed.Add(int64(chunk))
	}
	elapsed = time.Since(start)
	counters.NsElapsed.Add(elapsed.Nanoseconds())
	return processed, elapsed, nil
}

func runChunk(width simd.Width, off, chunk int, counters *Counters, fn Op) error {
	guard := AcquireGuard(width, counters)
	defer guard.Close()
	return fn(width, off, chunk)
}
