package core

import (
	"context"
	"testing"
	"time"

	"github.com/vexfs/vexfs/alloc"
	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/graph/index"
	"github.com/vexfs/vexfs/journal"
	"github.com/vexfs/vexfs/semantic"
)

type alwaysLiveOracle struct{}

func (alwaysLiveOracle) BlockHasReference(uint64) bool { return true }
func (alwaysLiveOracle) InodeHasReference(uint64) bool { return true }

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dev := blockio.NewMemDisk(4096)
	clock := blockio.MonoClock{}
	cfg := Config{
		Journal: journal.Config{
			StartBlock:         0,
			RingBlocks:         64,
			CommitThreads:      2,
			ConcurrentLimit:    16,
			CheckpointInterval: 1000,
			BarrierTimeout:     time.Second,
		},
		Semantic: semantic.Config{
			StartBlock:   64,
			BlockCount:   64,
			CacheEntries: 8,
		},
		IndexDBPath:   ":memory:",
		CuckooFilterN: 1024,
	}
	var seq uint64
	nowNs := func() uint64 { seq++; return seq }
	c, err := Open(context.Background(), cfg, dev, clock, alwaysLiveOracle{}, nowNs)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenWiresAllSubsystems(t *testing.T) {
	c := newTestCore(t)
	if c.Journal == nil || c.Allocs == nil || c.Orphans == nil || c.Graph == nil ||
		c.Index == nil || c.Query == nil || c.Posix == nil || c.Events == nil {
		t.Fatalf("expected every subsystem wired, got %+v", c)
	}
}

func TestGraphMutationFlowsThroughIndexAndQuery(t *testing.T) {
	c := newTestCore(t)
	if _, err := c.Index.CreateIndex(index.Handle{Kind: index.ByNodeID}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	if _, err := c.EnableAwareness(context.Background(), 100, "file"); err != nil {
		t.Fatalf("EnableAwareness: %v", err)
	}

	stats, err := c.Index.Statistics(index.Handle{Kind: index.ByNodeID})
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("expected 1 indexed node, got %d", stats.Entries)
	}

	tuples, _, err := c.Query.Run(`MATCH (v:file) RETURN v`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tuples) != 1 {
		t.Fatalf("expected 1 query result, got %d", len(tuples))
	}
}

func TestStatsGetAndReset(t *testing.T) {
	c := newTestCore(t)
	before := c.StatsGet()
	if before.Journal.Commits != 0 {
		t.Fatalf("expected zero commits at startup, got %d", before.Journal.Commits)
	}

	c.BatchCounters.TotalOps.Inc()
	after := c.StatsGet()
	if after.Batch.TotalOps != 1 {
		t.Fatalf("expected 1 batch op recorded, got %d", after.Batch.TotalOps)
	}

	c.StatsReset()
	reset := c.StatsGet()
	if reset.Batch.TotalOps != 0 {
		t.Fatalf("expected batch counters cleared after reset, got %d", reset.Batch.TotalOps)
	}
}

func TestOrphanResolverReachableThroughCore(t *testing.T) {
	c := newTestCore(t)
	if err := c.Allocs.AddGroup(alloc.NewGroup(1, 0, 8, 0)); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	c.Orphans.Scan(1)
	if c.Orphans.QueueLen() != 0 {
		t.Fatalf("expected no orphans when oracle reports everything live, got %d", c.Orphans.QueueLen())
	}
}

func TestCreateNodeIsJournaledAndCommitted(t *testing.T) {
	c := newTestCore(t)
	before := c.Journal.Stats.Snapshot().Commits

	n, err := c.CreateNode(context.Background(), nil, "file")
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if _, err := c.Graph.LookupNode(n.ID); err != nil {
		t.Fatalf("expected node visible after commit, got %v", err)
	}
	after := c.Journal.Stats.Snapshot().Commits
	if after != before+1 {
		t.Fatalf("expected CreateNode to commit exactly one transaction, before=%d after=%d", before, after)
	}
}

func TestDestroyNodeDeferredUntilCommit(t *testing.T) {
	c := newTestCore(t)
	n, err := c.CreateNode(context.Background(), nil, "file")
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	removed, err := c.DestroyNode(context.Background(), n.ID, false)
	if err != nil {
		t.Fatalf("DestroyNode: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no cascaded edges, got %d", removed)
	}
	if _, err := c.Graph.LookupNode(n.ID); cmn.CodeOf(err) != cmn.ErrNotFound {
		t.Fatalf("expected node gone once its destroy transaction committed, got %v", err)
	}
}

func TestCreateEdgeJoinsTwoNodesInOneTransaction(t *testing.T) {
	c := newTestCore(t)
	a, err := c.CreateNode(context.Background(), nil, "v")
	if err != nil {
		t.Fatalf("CreateNode a: %v", err)
	}
	b, err := c.CreateNode(context.Background(), nil, "v")
	if err != nil {
		t.Fatalf("CreateNode b: %v", err)
	}
	e, err := c.CreateEdge(context.Background(), a.ID, b.ID, "links", 1.0)
	if err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}
	if _, err := c.Graph.LookupEdge(e.ID); err != nil {
		t.Fatalf("expected edge visible after commit, got %v", err)
	}

	if err := c.DestroyEdge(context.Background(), e.ID); err != nil {
		t.Fatalf("DestroyEdge: %v", err)
	}
	if _, err := c.Graph.LookupEdge(e.ID); cmn.CodeOf(err) != cmn.ErrNotFound {
		t.Fatalf("expected edge gone once its destroy transaction committed, got %v", err)
	}
}
