package graph

import (
	"context"
	"testing"
	"time"

	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/journal"
)

func testClock() uint64 { return 1 }

// newTestJournal gives each test its own in-memory-backed journal so graph
// mutations have a real transaction to stage into (spec §4.4: "updates are
// journaled as metadata in the same transaction").
func newTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	dev := blockio.NewMemDisk(4096)
	cfg := journal.Config{
		StartBlock:      0,
		RingBlocks:      256,
		CommitThreads:   2,
		ConcurrentLimit: 64,
		BarrierTimeout:  time.Second,
	}
	j, err := journal.Open(context.Background(), cfg, dev, blockio.MonoClock{})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(j.Close)
	return j
}

// withTxn begins a transaction, runs fn against it, and commits — the
// harness every graph-mutating test in this package funnels through.
func withTxn(t *testing.T, j *journal.Journal, fn func(*journal.Transaction)) {
	t.Helper()
	txn, err := j.Begin(64, "test.graph", 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	fn(txn)
	if err := j.Commit(context.Background(), txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCreateDestroyNodeStrictMode(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	var n1, n2 *Node
	withTxn(t, j, func(txn *journal.Transaction) {
		var err error
		n1, err = s.CreateNode(txn, nil, "file")
		if err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
		n2, err = s.CreateNode(txn, nil, "file")
		if err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	})
	withTxn(t, j, func(txn *journal.Transaction) {
		if _, err := s.CreateEdge(txn, n1.ID, n2.ID, "links", 1.0); err != nil {
			t.Fatalf("CreateEdge: %v", err)
		}
	})

	txn, err := j.Begin(64, "test.graph", 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := s.DestroyNode(txn, n1.ID, false); cmn.CodeOf(err) != cmn.ErrBusy {
		t.Fatalf("expected ErrBusy destroying node with edges in strict mode, got %v", err)
	}
	j.Abort(txn)

	var removed int
	withTxn(t, j, func(txn *journal.Transaction) {
		r, err := s.DestroyNode(txn, n1.ID, true)
		if err != nil {
			t.Fatalf("cascade DestroyNode: %v", err)
		}
		removed = r
	})
	if removed != 1 {
		t.Fatalf("expected 1 removed edge, got %d", removed)
	}
	if _, err := s.LookupNode(n1.ID); cmn.CodeOf(err) != cmn.ErrNotFound {
		t.Fatalf("expected node gone after destroy, got %v", err)
	}
}

func TestCreateEdgeRejectsSelfLoop(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	var n *Node
	withTxn(t, j, func(txn *journal.Transaction) {
		var err error
		n, err = s.CreateNode(txn, nil, "file")
		if err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	})
	txn, err := j.Begin(64, "test.graph", 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, cerr := s.CreateEdge(txn, n.ID, n.ID, "self", 1.0)
	if cmn.CodeOf(cerr) != cmn.ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam for self-loop, got %v", cerr)
	}
	j.Abort(txn)
}

func TestDuplicatePropertyKeyFails(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	var n *Node
	withTxn(t, j, func(txn *journal.Transaction) {
		var err error
		n, err = s.CreateNode(txn, nil, "file")
		if err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	})
	if err := n.SetProperty(Property{Key: "size", Kind: PInteger, Value: 10}); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	err := n.SetProperty(Property{Key: "size", Kind: PInteger, Value: 20})
	if cmn.CodeOf(err) != cmn.ErrExists {
		t.Fatalf("expected ErrExists on duplicate key, got %v", err)
	}
}

func buildChain(t *testing.T, j *journal.Journal, s *Store, n int) []*Node {
	t.Helper()
	nodes := make([]*Node, n)
	withTxn(t, j, func(txn *journal.Transaction) {
		for i := 0; i < n; i++ {
			node, err := s.CreateNode(txn, nil, "v")
			if err != nil {
				t.Fatalf("create node %d: %v", i, err)
			}
			nodes[i] = node
		}
	})
	withTxn(t, j, func(txn *journal.Transaction) {
		for i := 0; i < n-1; i++ {
			if _, err := s.CreateEdge(txn, nodes[i].ID, nodes[i+1].ID, "next", 1.0); err != nil {
				t.Fatalf("create edge %d: %v", i, err)
			}
		}
	})
	return nodes
}

func TestBFSDiscoveryOrder(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	nodes := buildChain(t, j, s, 4)
	res, err := s.Traverse(BFS, nodes[0].ID, -1, 0, Filters{})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	want := []uint64{nodes[0].ID, nodes[1].ID, nodes[2].ID, nodes[3].ID}
	if len(res.Nodes) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(res.Nodes))
	}
	for i, id := range want {
		if res.Nodes[i] != id {
			t.Fatalf("position %d: expected %d, got %d", i, id, res.Nodes[i])
		}
	}
	if res.Distances[3] != 3 {
		t.Fatalf("expected hop distance 3 at chain end, got %d", res.Distances[3])
	}
}

func TestBFSMaxDepthLimitsTraversal(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	nodes := buildChain(t, j, s, 5)
	res, err := s.Traverse(BFS, nodes[0].ID, 2, 0, Filters{})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(res.Nodes) != 3 { // start + 2 hops
		t.Fatalf("expected 3 nodes within max_depth=2, got %d: %v", len(res.Nodes), res.Nodes)
	}
}

func TestDijkstraShortestPath(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	var a, b, c, d *Node
	withTxn(t, j, func(txn *journal.Transaction) {
		a, _ = s.CreateNode(txn, nil, "v")
		b, _ = s.CreateNode(txn, nil, "v")
		c, _ = s.CreateNode(txn, nil, "v")
		d, _ = s.CreateNode(txn, nil, "v")
	})
	// a->b->d weight 10, a->c->d weight 2 (shorter path)
	withTxn(t, j, func(txn *journal.Transaction) {
		s.CreateEdge(txn, a.ID, b.ID, "e", 5)
		s.CreateEdge(txn, b.ID, d.ID, "e", 5)
		s.CreateEdge(txn, a.ID, c.ID, "e", 1)
		s.CreateEdge(txn, c.ID, d.ID, "e", 1)
	})

	res, err := s.ShortestPath(a.ID, d.ID, Filters{})
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	want := []uint64{a.ID, c.ID, d.ID}
	if len(res.Nodes) != len(want) {
		t.Fatalf("expected path through c (length %d), got %v", len(want), res.Nodes)
	}
	for i, id := range want {
		if res.Nodes[i] != id {
			t.Fatalf("expected node %d at position %d, got %d", id, i, res.Nodes[i])
		}
	}
}

func TestDijkstraNoPath(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	var a, b *Node
	withTxn(t, j, func(txn *journal.Transaction) {
		a, _ = s.CreateNode(txn, nil, "v")
		b, _ = s.CreateNode(txn, nil, "v")
	})
	_, err := s.ShortestPath(a.ID, b.ID, Filters{})
	if cmn.CodeOf(err) != cmn.ErrNotFound {
		t.Fatalf("expected ErrNotFound (NoPath) for disconnected nodes, got %v", err)
	}
}

func TestTraverseRespectsEdgeTypeFilter(t *testing.T) {
	j := newTestJournal(t)
	s := NewStore(testClock)
	var a, b, c *Node
	withTxn(t, j, func(txn *journal.Transaction) {
		a, _ = s.CreateNode(txn, nil, "v")
		b, _ = s.CreateNode(txn, nil, "v")
		c, _ = s.CreateNode(txn, nil, "v")
	})
	withTxn(t, j, func(txn *journal.Transaction) {
		s.CreateEdge(txn, a.ID, b.ID, "keep", 1)
		s.CreateEdge(txn, a.ID, c.ID, "skip", 1)
	})

	res, err := s.Traverse(BFS, a.ID, -1, 0, Filters{EdgeType: "keep"})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("expected only the 'keep' edge followed, got %v", res.Nodes)
	}
	if res.Nodes[1] != b.ID {
		t.Fatalf("expected b reached via 'keep' edge, got %d", res.Nodes[1])
	}
}
