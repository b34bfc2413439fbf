// Package blockio declares the collaborator interfaces the VexFS core
// consumes from its host (spec §6): block I/O, clock, and the orphan
// resolver's reference oracle. The core never talks to a real block device
// or page cache directly — those are VFS-layer concerns explicitly out of
// scope (spec §1) — it only ever calls through these three interfaces.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package blockio

import "context"

// BlockIO is the opaque fixed-size block device the journal and every
// on-disk structure read and write through.
type BlockIO interface {
	Read(ctx context.Context, blockNo uint64) ([]byte, error)
	Write(ctx context.Context, blockNo uint64, data []byte) error
	Fsync(ctx context.Context) error
	BlockSize() int
}

// Clock supplies monotonic and wall-clock nanosecond timestamps (spec §6).
type Clock interface {
	NowNs() uint64
	WallNs() uint64
}

// RefOracle answers whether a block or inode still has a live external
// reference — used exclusively by the orphan resolver (§4.2). The spec's
// Open Question (§9) permits a conservative-true oracle: false positives
// cost nothing beyond a wasted scan, false negatives would cause data loss
// and must never happen.
type RefOracle interface {
	BlockHasReference(blockNo uint64) bool
	InodeHasReference(inodeNo uint64) bool
}
