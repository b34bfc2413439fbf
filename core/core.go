// Package core wires C1-C15 behind one handle: a journal, allocator,
// vector engine, graph store with its index manager, query executor, POSIX
// mapping and semantic log sharing one block device, clock and reference
// oracle (spec §9 Design Notes).
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package core

import (
	"context"
	"fmt"

	"github.com/vexfs/vexfs/alloc"
	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/config"
	"github.com/vexfs/vexfs/graph"
	"github.com/vexfs/vexfs/graph/index"
	"github.com/vexfs/vexfs/graph/posix"
	"github.com/vexfs/vexfs/graph/query"
	"github.com/vexfs/vexfs/journal"
	"github.com/vexfs/vexfs/journal/orphan"
	"github.com/vexfs/vexfs/semantic"
	"github.com/vexfs/vexfs/vector/batch"
)

// graphTxnBlocks bounds the metadata blocks a single graph mutation's
// transaction stages: the mutation record itself plus headroom for cascaded
// edge removals.
const graphTxnBlocks = 64

// Config assembles every subsystem's configuration into one bundle handed
// to Open.
type Config struct {
	Journal       journal.Config
	Semantic      semantic.Config
	IndexDBPath   string // ":memory:" for an ephemeral index store
	CuckooFilterN uint
}

// Core is the single handle a host obtains after mount: every control-plane
// op in spec §6 hangs off one of its fields.
type Core struct {
	Journal *journal.Journal
	Allocs  *alloc.Manager
	Orphans *orphan.Resolver
	Graph   *graph.Store
	Index   *index.Manager
	Query   *query.Executor
	Posix   *posix.Mapper
	Events  *semantic.Log

	BatchCounters *batch.Counters
}

// FromTypedConfig adapts the on-disk config.Config tree (spec §9: "no
// module-level state") into the Config shape Open expects, so a host can
// call config.Load and hand the result straight to Open.
func FromTypedConfig(c config.Config) Config {
	return Config{
		Journal: journal.Config{
			StartBlock:         c.Journal.StartBlock,
			RingBlocks:         c.Journal.RingBlocks,
			CommitThreads:      c.Journal.CommitThreads,
			ConcurrentLimit:    c.Journal.ConcurrentLimit,
			CheckpointInterval: c.Journal.CheckpointInterval,
			BarrierTimeout:     c.Journal.BarrierTimeout,
		},
		Semantic: semantic.Config{
			StartBlock:           c.Semantic.StartBlock,
			BlockCount:           c.Semantic.BlockCount,
			CacheEntries:         c.Semantic.CacheEntries,
			CompressionThreshold: c.Semantic.CompressionThreshold,
		},
		IndexDBPath:   c.Graph.IndexDBPath,
		CuckooFilterN: c.Graph.CuckooFilterN,
	}
}

// Open brings up every subsystem in the fixed lock-acquisition order spec
// §7 mandates for multi-resource operations (journal → graph → node →
// index), so Core itself never needs its own top-level lock.
func Open(ctx context.Context, cfg Config, dev blockio.BlockIO, clock blockio.Clock, oracle blockio.RefOracle, nowNs func() uint64) (*Core, error) {
	j, err := journal.Open(ctx, cfg.Journal, dev, clock)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrIO, err, "core: open journal")
	}

	allocs := alloc.NewManager()

	// freeFunc always journals the bitmap clear before returning the block
	// or inode to the free pool (spec §4.2: "freeing is always journaled,
	// never direct").
	freeFunc := func(ctx context.Context, kind orphan.Kind, groupID uint32, ref uint64) error {
		grp, err := allocs.Group(groupID)
		if err != nil {
			return err
		}
		txn, err := j.Begin(1, "orphan.reclaim", 0)
		if err != nil {
			return err
		}
		body := []byte(fmt.Sprintf("free kind=%d group=%d ref=%d", kind, groupID, ref))
		if err := txn.StageMetadata(ref, body); err != nil {
			j.Abort(txn)
			return err
		}
		txn.AddOnCommit(func() {
			switch kind {
			case orphan.KindBlock:
				_ = grp.FreeBlock(ref)
			case orphan.KindInode:
				_ = grp.FreeInode(ref)
			}
		})
		return j.Commit(ctx, txn)
	}
	orphans := orphan.NewResolver(allocs, oracle, freeFunc, cfg.CuckooFilterN)

	store := graph.NewStore(nowNs)

	idx, err := index.NewManager(store, cfg.IndexDBPath)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrIO, err, "core: open index manager")
	}

	qexec := query.NewExecutor(store, idx)
	posixMapper := posix.NewMapper(store)
	events := semantic.Open(cfg.Semantic, dev, clock)

	return &Core{
		Journal:       j,
		Allocs:        allocs,
		Orphans:       orphans,
		Graph:         store,
		Index:         idx,
		Query:         qexec,
		Posix:         posixMapper,
		Events:        events,
		BatchCounters: &batch.Counters{},
	}, nil
}

// Close releases every subsystem's resources, reverse of the acquisition
// order in Open.
func (c *Core) Close() error {
	if err := c.Events.Flush(context.Background()); err != nil {
		return err
	}
	if err := c.Index.Close(); err != nil {
		return err
	}
	c.Journal.Close()
	return nil
}

// BatchStats mirrors batch.Counters.Snapshot()'s return tuple as named
// fields so it composes into Stats.
type BatchStats struct {
	TotalOps         int64
	FPUAcquisitions  int64
	VectorsProcessed int64
	NsElapsed        int64
}

// Stats is the aggregate counters exposed via `stats.get`/`stats.reset`
// (spec §6), pulled from every subsystem that tracks its own counters.
type Stats struct {
	Journal journal.Snapshot
	Batch   BatchStats
	Orphans orphan.Stats
}

// StatsGet implements `stats.get` (spec §6).
func (c *Core) StatsGet() Stats {
	totalOps, acquisitions, vectors, nsElapsed := c.BatchCounters.Snapshot()
	return Stats{
		Journal: c.Journal.Stats.Snapshot(),
		Batch: BatchStats{
			TotalOps:         totalOps,
			FPUAcquisitions:  acquisitions,
			VectorsProcessed: vectors,
			NsElapsed:        nsElapsed,
		},
		Orphans: c.Orphans.Snapshot(),
	}
}

// StatsReset implements `stats.reset` (spec §6): zeroes the journal and
// batch counters; the orphan resolver's scan/reclaim/drop counters are not
// reset. Prometheus-registered vectors are cumulative by design
// and are intentionally left untouched — they serve external scraping, not
// the in-process reset contract.
func (c *Core) StatsReset() {
	c.Journal.Stats.Reset()
	c.BatchCounters.TotalOps.Store(0)
	c.BatchCounters.FPUAcquisitions.Store(0)
	c.BatchCounters.VectorsProcessed.Store(0)
	c.BatchCounters.NsElapsed.Store(0)
}

// runGraphTxn opens a transaction, runs fn inside it, appends a semantic
// event describing the operation, and commits — the one path every
// graph-mutating Core method funnels through (spec §2 flow: "the semantic
// log appends an event describing the operation").
func (c *Core) runGraphTxn(ctx context.Context, opKind string, attrs map[string]any, fn func(*journal.Transaction) error) error {
	txn, err := c.Journal.Begin(graphTxnBlocks, opKind, 0)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		c.Journal.Abort(txn)
		return err
	}
	if _, err := c.Events.Append(ctx, semantic.EventGraphOp, opKind, attrs); err != nil {
		c.Journal.Abort(txn)
		return err
	}
	return c.Journal.Commit(ctx, txn)
}

// CreateNode creates a graph node inside its own transaction and appends a
// semantic event recording the operation (spec §2 flow).
func (c *Core) CreateNode(ctx context.Context, externalObjectID *uint64, typ string) (*graph.Node, error) {
	var n *graph.Node
	err := c.runGraphTxn(ctx, "graph.node_create", map[string]any{"type": typ}, func(txn *journal.Transaction) error {
		created, err := c.Graph.CreateNode(txn, externalObjectID, typ)
		if err != nil {
			return err
		}
		n = created
		return nil
	})
	return n, err
}

// DestroyNode destroys a graph node inside its own transaction; the node's
// removal from memory only takes effect once that transaction commits.
func (c *Core) DestroyNode(ctx context.Context, id uint64, cascade bool) (int, error) {
	var removed int
	err := c.runGraphTxn(ctx, "graph.node_destroy", map[string]any{"node_id": id, "cascade": cascade}, func(txn *journal.Transaction) error {
		r, err := c.Graph.DestroyNode(txn, id, cascade)
		removed = r
		return err
	})
	return removed, err
}

// CreateEdge creates a graph edge inside its own transaction.
func (c *Core) CreateEdge(ctx context.Context, src, tgt uint64, typ string, weight float64) (*graph.Edge, error) {
	var e *graph.Edge
	err := c.runGraphTxn(ctx, "graph.edge_create", map[string]any{"type": typ, "source_id": src, "target_id": tgt}, func(txn *journal.Transaction) error {
		created, err := c.Graph.CreateEdge(txn, src, tgt, typ, weight)
		if err != nil {
			return err
		}
		e = created
		return nil
	})
	return e, err
}

// DestroyEdge destroys a graph edge inside its own transaction.
func (c *Core) DestroyEdge(ctx context.Context, id uint64) error {
	return c.runGraphTxn(ctx, "graph.edge_destroy", map[string]any{"edge_id": id}, func(txn *journal.Transaction) error {
		return c.Graph.DestroyEdge(txn, id)
	})
}

// EnableAwareness maps a POSIX object id onto a fresh graph node inside its
// own transaction (spec §4.7).
func (c *Core) EnableAwareness(ctx context.Context, objectID uint64, nodeType string) (*graph.Node, error) {
	var n *graph.Node
	err := c.runGraphTxn(ctx, "posix.enable_awareness", map[string]any{"object_id": objectID, "type": nodeType}, func(txn *journal.Transaction) error {
		created, err := c.Posix.EnableAwareness(txn, objectID, nodeType)
		if err != nil {
			return err
		}
		n = created
		return nil
	})
	return n, err
}

// DisableAwareness removes a POSIX object's graph mapping inside its own
// transaction (spec §4.7).
func (c *Core) DisableAwareness(ctx context.Context, objectID uint64, cascade bool) error {
	return c.runGraphTxn(ctx, "posix.disable_awareness", map[string]any{"object_id": objectID, "cascade": cascade}, func(txn *journal.Transaction) error {
		return c.Posix.DisableAwareness(txn, objectID, cascade)
	})
}
