package graph

import (
	"container/heap"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/vexfs/vexfs/cmn"
)

// Algo selects a traversal strategy.
type Algo int

const (
	BFS Algo = iota
	DFS
)

// Filters narrows traversal to a node type and/or edge type (spec §4.4
// "Traversal contract").
type Filters struct {
	NodeType string // empty = no filter
	EdgeType string
}

// Result mirrors the traversal contract's output: nodes[], edges[],
// distances[] in discovery order.
type Result struct {
	Nodes     []uint64
	Edges     []uint64
	Distances []int
}

// visitedSet wraps a roaring bitmap that grows with the ids marked in it.
// It stores the low 32 bits of each node id, so two ids collide only when
// they differ above bit 31.
type visitedSet struct {
	bm *roaring.Bitmap
}

func newVisitedSet() *visitedSet { return &visitedSet{bm: roaring.New()} }

func (v *visitedSet) test(id uint64) bool   { return v.bm.Contains(uint32(id)) }
func (v *visitedSet) mark(id uint64)        { v.bm.Add(uint32(id)) }

func (s *Store) edgeMatchesFilter(e *Edge, f Filters) bool {
	return f.EdgeType == "" || e.Type == f.EdgeType
}

func (s *Store) nodeMatchesFilter(n *Node, f Filters) bool {
	return f.NodeType == "" || n.Type == f.NodeType
}

// Traverse implements BFS/DFS with signature `(start, max_depth,
// max_results, node_type_filter?, edge_type_filter?) → nodes[], edges[],
// distances[]` (spec §4.4).
func (s *Store) Traverse(algo Algo, start uint64, maxDepth, maxResults int, f Filters) (*Result, error) {
	startNode, err := s.LookupNode(start)
	if err != nil {
		return nil, err
	}
	if !s.nodeMatchesFilter(startNode, f) {
		return &Result{}, nil
	}

	type frame struct {
		nodeID uint64
		depth  int
	}

	visited := newVisitedSet()
	visited.mark(start)
	res := &Result{Nodes: []uint64{start}, Distances: []int{0}}

	switch algo {
	case BFS:
		queue := []frame{{start, 0}}
		for len(queue) > 0 {
			if maxResults > 0 && len(res.Nodes) >= maxResults {
				break
			}
			cur := queue[0]
			queue = queue[1:]
			if maxDepth >= 0 && cur.depth >= maxDepth {
				continue
			}
			node, err := s.LookupNode(cur.nodeID)
			if err != nil {
				continue
			}
			for _, eid := range node.OutgoingEdgeIDs() {
				e, err := s.LookupEdge(eid)
				if err != nil || !s.edgeMatchesFilter(e, f) {
					continue
				}
				if visited.test(e.TargetID) {
					continue
				}
				tgt, err := s.LookupNode(e.TargetID)
				if err != nil || !s.nodeMatchesFilter(tgt, f) {
					continue
				}
				visited.mark(e.TargetID)
				res.Nodes = append(res.Nodes, e.TargetID)
				res.Edges = append(res.Edges, eid)
				res.Distances = append(res.Distances, cur.depth+1)
				queue = append(queue, frame{e.TargetID, cur.depth + 1})
				if maxResults > 0 && len(res.Nodes) >= maxResults {
					break
				}
			}
		}
	case DFS:
		stack := []frame{{start, 0}}
		for len(stack) > 0 {
			if maxResults > 0 && len(res.Nodes) >= maxResults {
				break
			}
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if maxDepth >= 0 && cur.depth >= maxDepth {
				continue
			}
			node, err := s.LookupNode(cur.nodeID)
			if err != nil {
				continue
			}
			out := node.OutgoingEdgeIDs()
			// Push in reverse insertion order so the first inserted edge is
			// explored first off the LIFO stack (spec §4.4 "DFS order").
			var toPush []frame
			for _, eid := range out {
				e, err := s.LookupEdge(eid)
				if err != nil || !s.edgeMatchesFilter(e, f) {
					continue
				}
				if visited.test(e.TargetID) {
					continue
				}
				tgt, err := s.LookupNode(e.TargetID)
				if err != nil || !s.nodeMatchesFilter(tgt, f) {
					continue
				}
				visited.mark(e.TargetID)
				res.Nodes = append(res.Nodes, e.TargetID)
				res.Edges = append(res.Edges, eid)
				res.Distances = append(res.Distances, cur.depth+1)
				toPush = append(toPush, frame{e.TargetID, cur.depth + 1})
				if maxResults > 0 && len(res.Nodes) >= maxResults {
					break
				}
			}
			for i := len(toPush) - 1; i >= 0; i-- {
				stack = append(stack, toPush[i])
			}
		}
	default:
		return nil, cmn.NewErr(cmn.ErrInvalidParam, "unknown traversal algorithm %d", algo)
	}
	return res, nil
}

// pqItem is one entry in Dijkstra's priority queue, keyed by tentative
// distance, ties broken by insertion order (spec §4.4).
type pqItem struct {
	nodeID   uint64
	dist     float64
	seq      int
	pathEdge uint64 // edge used to reach nodeID, 0 if start
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].seq < pq[j].seq
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// ShortestPath implements Dijkstra over non-negative edge weights
// (spec §4.4): a priority queue keyed by tentative distance, ties broken by
// insertion order. Returns NotFound (modeled as cmn.ErrNotFound, spec's
// "NoPath") if target is unreachable under the filters.
func (s *Store) ShortestPath(source, target uint64, f Filters) (*Result, error) {
	if _, err := s.LookupNode(source); err != nil {
		return nil, err
	}
	if _, err := s.LookupNode(target); err != nil {
		return nil, err
	}

	dist := map[uint64]float64{source: 0}
	prevEdge := map[uint64]uint64{}
	prevNode := map[uint64]uint64{}
	visited := newVisitedSet()

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{nodeID: source, dist: 0, seq: 0})
	seq := 1

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		if visited.test(item.nodeID) {
			continue
		}
		visited.mark(item.nodeID)
		if item.nodeID == target {
			break
		}
		node, err := s.LookupNode(item.nodeID)
		if err != nil {
			continue
		}
		for _, eid := range node.OutgoingEdgeIDs() {
			e, err := s.LookupEdge(eid)
			if err != nil || !s.edgeMatchesFilter(e, f) {
				continue
			}
			tgt, err := s.LookupNode(e.TargetID)
			if err != nil || !s.nodeMatchesFilter(tgt, f) {
				continue
			}
			if visited.test(e.TargetID) {
				continue
			}
			nd := item.dist + e.Weight
			if cur, ok := dist[e.TargetID]; !ok || nd < cur {
				dist[e.TargetID] = nd
				prevEdge[e.TargetID] = eid
				prevNode[e.TargetID] = item.nodeID
				heap.Push(pq, &pqItem{nodeID: e.TargetID, dist: nd, seq: seq})
				seq++
			}
		}
	}

	if _, ok := dist[target]; !ok {
		return nil, cmn.NewErr(cmn.ErrNotFound, "no path from %d to %d", source, target)
	}

	var nodes []uint64
	var edges []uint64
	cur := target
	for cur != source {
		nodes = append([]uint64{cur}, nodes...)
		eid := prevEdge[cur]
		edges = append([]uint64{eid}, edges...)
		cur = prevNode[cur]
	}
	nodes = append([]uint64{source}, nodes...)

	distances := make([]int, len(nodes))
	for i := range distances {
		distances[i] = i
	}
	return &Result{Nodes: nodes, Edges: edges, Distances: distances}, nil
}
