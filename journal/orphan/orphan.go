// Package orphan implements the reference-scan reclaim loop (spec C7): it
// walks each allocation group's bitmap, asks the host's reference oracle
// whether the bit still has a live reference, and queues unreachable
// objects for a journaled free.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package orphan

import (
	"container/list"
	"context"
	"encoding/binary"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/vexfs/vexfs/alloc"
	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn/atomic"
	"github.com/vexfs/vexfs/cmn/nlog"
)

// Kind is the object kind an orphan entry refers to (spec §3).
type Kind int

const (
	KindBlock Kind = iota
	KindInode
	KindVectorData
	KindIndexData
)

// maxAttempts is the drop threshold from spec §4.2: "≥3 failures → drop
// entry with warning".
const maxAttempts = 3

// Entry is the {kind, ref, group_id, first_detected_ns, attempts} tuple from
// spec §3.
type Entry struct {
	Kind            Kind
	Ref             uint64
	GroupID         uint32
	FirstDetectedNs uint64
	Attempts        int
}

// FreeFunc journals a free of ref within groupID; the resolver never frees
// directly (spec §4.2 invariant).
type FreeFunc func(ctx context.Context, kind Kind, groupID uint32, ref uint64) error

// Resolver scans allocation groups for unreachable objects and drains a
// reclaim queue through the journal.
type Resolver struct {
	mgr    *alloc.Manager
	oracle blockio.RefOracle
	free   FreeFunc

	// filter is a cuckoo filter of refs the host registered through
	// MarkLive/UnmarkLive, queried by probablyLive. Scan does not decide on
	// it: every allocated block and inode is checked with the RefOracle.
	filterMu sync.Mutex
	filter   *cuckoo.Filter

	mu      sync.Mutex
	queue   *list.List // of *Entry, FIFO
	byRef   map[uint64]*list.Element

	scans   atomic.Int64
	reclaims atomic.Int64
	drops   atomic.Int64
}

// NewResolver constructs a resolver over mgr's allocation groups. filterSize
// sizes the cuckoo pre-filter; 0 picks a sane default.
func NewResolver(mgr *alloc.Manager, oracle blockio.RefOracle, free FreeFunc, filterSize uint) *Resolver {
	if filterSize == 0 {
		filterSize = 1 << 20
	}
	return &Resolver{
		mgr:    mgr,
		oracle: oracle,
		free:   free,
		filter: cuckoo.NewFilter(filterSize),
		queue:  list.New(),
		byRef:  make(map[uint64]*list.Element),
	}
}

// MarkLive registers ref as having a live reference in the cuckoo pre-filter.
// Hosts call this whenever a new reference to a block/inode is created.
func (r *Resolver) MarkLive(ref uint64) {
	r.filterMu.Lock()
	defer r.filterMu.Unlock()
	r.filter.InsertUnique(refKey(ref))
}

// UnmarkLive removes ref from the pre-filter once its last reference is
// dropped by the host.
func (r *Resolver) UnmarkLive(ref uint64) {
	r.filterMu.Lock()
	defer r.filterMu.Unlock()
	r.filter.Delete(refKey(ref))
}

func refKey(ref uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], ref)
	return b[:]
}

// probablyLive consults the cuckoo filter: true means ref was probably
// registered with MarkLive (cuckoo filters have false positives but no false
// negatives for inserted keys), false means it was not registered or was
// unregistered. Neither answer replaces the RefOracle check in Scan.
func (r *Resolver) probablyLive(ref uint64) bool {
	r.filterMu.Lock()
	defer r.filterMu.Unlock()
	return r.filter.Lookup(refKey(ref))
}

// Scan walks every allocation group and enqueues unreachable objects as
// orphan entries (spec §4.2).
func (r *Resolver) Scan(nowNs uint64) {
	r.scans.Inc()
	r.mgr.Each(func(g *alloc.Group) {
		g.EachAllocatedBlock(func(blockNo uint64) {
			r.checkBlock(g.ID, blockNo, nowNs)
		})
		g.EachAllocatedInode(func(inodeNo uint64) {
			r.checkInode(g.ID, inodeNo, nowNs)
		})
	})
}

func (r *Resolver) checkBlock(groupID uint32, blockNo uint64, nowNs uint64) {
	// The oracle decides for every allocated block: a filter miss only means
	// the host never called MarkLive for it, not that it is unreferenced.
	if r.oracle.BlockHasReference(blockNo) {
		return
	}
	r.enqueue(&Entry{Kind: KindBlock, Ref: blockNo, GroupID: groupID, FirstDetectedNs: nowNs})
}

func (r *Resolver) checkInode(groupID uint32, inodeNo uint64, nowNs uint64) {
	if r.oracle.InodeHasReference(inodeNo) {
		return
	}
	r.enqueue(&Entry{Kind: KindInode, Ref: inodeNo, GroupID: groupID, FirstDetectedNs: nowNs})
}

func (r *Resolver) enqueue(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRef[e.Ref]; exists {
		return
	}
	el := r.queue.PushBack(e)
	r.byRef[e.Ref] = el
}

// ReclaimOne pops the oldest orphan entry and attempts a journaled free.
// Reports false if the queue was empty. On failure the entry's Attempts is
// incremented; at maxAttempts it is dropped with a logged warning
// (spec §4.2).
func (r *Resolver) ReclaimOne(ctx context.Context) (bool, error) {
	r.mu.Lock()
	front := r.queue.Front()
	if front == nil {
		r.mu.Unlock()
		return false, nil
	}
	e := front.Value.(*Entry)
	r.mu.Unlock()

	err := r.free(ctx, e.Kind, e.GroupID, e.Ref)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		e.Attempts++
		if e.Attempts >= maxAttempts {
			nlog.Warningf("orphan: dropping ref %d (kind %d, group %d) after %d failed reclaim attempts: %v", e.Ref, e.Kind, e.GroupID, e.Attempts, err)
			r.queue.Remove(front)
			delete(r.byRef, e.Ref)
			r.drops.Inc()
			return true, err
		}
		return true, err
	}
	r.queue.Remove(front)
	delete(r.byRef, e.Ref)
	r.reclaims.Inc()
	return true, nil
}

// Drain calls ReclaimOne until the queue is empty, ignoring individual
// failures (they remain queued unless they hit maxAttempts).
func (r *Resolver) Drain(ctx context.Context) {
	for {
		more, _ := r.ReclaimOne(ctx)
		if !more {
			return
		}
	}
}

// QueueLen reports the number of pending orphan entries.
func (r *Resolver) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Stats exposes the resolver's scan/reclaim/drop counters.
type Stats struct {
	Scans    int64
	Reclaims int64
	Drops    int64
	Queued   int
}

func (r *Resolver) Snapshot() Stats {
	return Stats{
		Scans:    r.scans.Load(),
		Reclaims: r.reclaims.Load(),
		Drops:    r.drops.Load(),
		Queued:   r.QueueLen(),
	}
}
