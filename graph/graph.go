// Package graph implements the labeled property graph store (spec C10) and
// its BFS/DFS/Dijkstra traversal (spec C11): ordered+hash node/edge tables,
// doubly-linked adjacency sequences, and property lists.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package graph

import (
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/atomic"
	"github.com/vexfs/vexfs/journal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metaBlockBase offsets the logical block numbers this store stages graph
// mutations under in a journal transaction, clear of the ring/semantic-log
// block ranges (spec §4.4's lifecycle: "updates are journaled as metadata
// in the same transaction").
const metaBlockBase = uint64(1) << 40

// mutationRecord is the metadata payload staged into a transaction for one
// graph mutation, decoded at recovery/replay time by whatever later reads
// the journal's metadata blocks back (spec §4.1 "Recovery").
type mutationRecord struct {
	Op       string `json:"op"`
	NodeID   uint64 `json:"node_id,omitempty"`
	EdgeID   uint64 `json:"edge_id,omitempty"`
	SourceID uint64 `json:"source_id,omitempty"`
	TargetID uint64 `json:"target_id,omitempty"`
	Type     string `json:"type,omitempty"`
}

// PropertyKind discriminates a Property's value representation (spec §3).
type PropertyKind int

const (
	PString PropertyKind = iota
	PInteger
	PBoolean
	PTimestamp
	PVector
)

// Property is {key (≤64 bytes), kind, value}; keys are unique per carrier.
type Property struct {
	Key   string
	Kind  PropertyKind
	Value any
}

// edgeRef is one element of a node's doubly-linked adjacency sequence.
type edgeRef struct {
	edgeID     uint64
	prev, next *edgeRef
}

// adjacency is the doubly-linked list of edgeRefs for one direction
// (outgoing or incoming) on one node, preserving insertion order.
type adjacency struct {
	head, tail *edgeRef
	n          int
}

func (a *adjacency) pushBack(edgeID uint64) *edgeRef {
	r := &edgeRef{edgeID: edgeID}
	if a.tail == nil {
		a.head, a.tail = r, r
	} else {
		r.prev = a.tail
		a.tail.next = r
		a.tail = r
	}
	a.n++
	return r
}

func (a *adjacency) remove(r *edgeRef) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		a.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		a.tail = r.prev
	}
	a.n--
}

func (a *adjacency) ids() []uint64 {
	out := make([]uint64, 0, a.n)
	for r := a.head; r != nil; r = r.next {
		out = append(out, r.edgeID)
	}
	return out
}

// Node is the {id, external_object_id, type, flags, property_list,
// outgoing_edges, incoming_edges, created_ns, modified_ns, accessed_ns}
// tuple from spec §3.
type Node struct {
	ID             uint64
	ExternalObjectID *uint64
	Type           string
	Flags          uint32
	CreatedNs      uint64
	ModifiedNs     uint64
	AccessedNs     uint64

	mu         sync.RWMutex
	properties map[string]*Property
	propOrder  []string
	out        adjacency
	in         adjacency
	outRefs    map[uint64]*edgeRef
	inRefs     map[uint64]*edgeRef
}

func newNode(id uint64, ext *uint64, typ string, nowNs uint64) *Node {
	return &Node{
		ID: id, ExternalObjectID: ext, Type: typ,
		CreatedNs: nowNs, ModifiedNs: nowNs, AccessedNs: nowNs,
		properties: make(map[string]*Property),
		outRefs:    make(map[uint64]*edgeRef),
		inRefs:     make(map[uint64]*edgeRef),
	}
}

// Degree returns (out-degree, in-degree).
func (n *Node) Degree() (int, int) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.out.n, n.in.n
}

// OutgoingEdgeIDs returns outgoing edge ids in insertion order.
func (n *Node) OutgoingEdgeIDs() []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.out.ids()
}

// IncomingEdgeIDs returns incoming edge ids in insertion order.
func (n *Node) IncomingEdgeIDs() []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.in.ids()
}

// SetProperty adds a new property; duplicate keys fail with Exists
// (spec §4.4 "Properties").
func (n *Node) SetProperty(p Property) error {
	if len(p.Key) > 64 {
		return cmn.NewErr(cmn.ErrInvalidParam, "property key %q exceeds 64 bytes", p.Key)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.properties[p.Key]; exists {
		return cmn.NewErr(cmn.ErrExists, "node %d: property %q already set", n.ID, p.Key)
	}
	cp := p
	n.properties[p.Key] = &cp
	n.propOrder = append(n.propOrder, p.Key)
	return nil
}

// Property returns the property at key, if present.
func (n *Node) Property(key string) (Property, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.properties[key]
	if !ok {
		return Property{}, false
	}
	return *p, true
}

// Properties returns all properties in insertion order.
func (n *Node) Properties() []Property {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Property, 0, len(n.propOrder))
	for _, k := range n.propOrder {
		out = append(out, *n.properties[k])
	}
	return out
}

// Edge is the {id, source_id, target_id, type, weight, property_list,
// created_ns} tuple from spec §3.
type Edge struct {
	ID       uint64
	SourceID uint64
	TargetID uint64
	Type     string
	Weight   float64
	CreatedNs uint64

	mu         sync.RWMutex
	properties map[string]*Property
	propOrder  []string
}

func newEdge(id, src, tgt uint64, typ string, weight float64, nowNs uint64) *Edge {
	return &Edge{
		ID: id, SourceID: src, TargetID: tgt, Type: typ, Weight: weight, CreatedNs: nowNs,
		properties: make(map[string]*Property),
	}
}

func (e *Edge) SetProperty(p Property) error {
	if len(p.Key) > 64 {
		return cmn.NewErr(cmn.ErrInvalidParam, "property key %q exceeds 64 bytes", p.Key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.properties[p.Key]; exists {
		return cmn.NewErr(cmn.ErrExists, "edge %d: property %q already set", e.ID, p.Key)
	}
	cp := p
	e.properties[p.Key] = &cp
	e.propOrder = append(e.propOrder, p.Key)
	return nil
}

func (e *Edge) Properties() []Property {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Property, 0, len(e.propOrder))
	for _, k := range e.propOrder {
		out = append(out, *e.properties[k])
	}
	return out
}

// MutationOp distinguishes an index-manager notification's op (spec §4.5).
type MutationOp int

const (
	OpAdd MutationOp = iota
	OpRemove
)

// Mutation is the {kind, op, node_or_edge} notification the index manager
// receives on every graph mutation inside a transaction (spec §4.5).
type Mutation struct {
	Op       MutationOp
	Node     *Node
	Edge     *Edge
}

// Listener receives graph mutation notifications — the index manager
// implements this (spec §4.5).
type Listener interface {
	OnMutation(Mutation)
}

// Store is the node/edge table: ordered (by id) plus hash lookups, as
// described in spec §4.4.
type Store struct {
	rw sync.RWMutex

	nodesByID map[uint64]*Node
	edgesByID map[uint64]*Edge
	nodeIDs   []uint64 // kept sorted, ordered index
	edgeIDs   []uint64

	nextNodeID   atomic.Uint64
	nextEdgeID   atomic.Uint64
	metaBlockSeq atomic.Uint64

	listeners []Listener
	clockNs   func() uint64
}

// NewStore constructs an empty graph store. clockNs supplies created_ns /
// modified_ns / accessed_ns timestamps.
func NewStore(clockNs func() uint64) *Store {
	return &Store{
		nodesByID: make(map[uint64]*Node),
		edgesByID: make(map[uint64]*Edge),
		clockNs:   clockNs,
	}
}

// AddListener registers a mutation listener (typically the index manager).
func (s *Store) AddListener(l Listener) {
	s.rw.Lock()
	defer s.rw.Unlock()
	s.listeners = append(s.listeners, l)
}

// nextMetaBlock reserves the next logical block number this store's
// mutations stage their descriptive metadata under.
func (s *Store) nextMetaBlock() uint64 {
	return metaBlockBase + s.metaBlockSeq.Inc() - 1
}

func (s *Store) notify(m Mutation) {
	for _, l := range s.listeners {
		l.OnMutation(m)
	}
}

func insertSorted(ids []uint64, id uint64) []uint64 {
	i := 0
	for i < len(ids) && ids[i] < id {
		i++
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeSorted(ids []uint64, id uint64) []uint64 {
	i := 0
	for i < len(ids) && ids[i] != id {
		i++
	}
	if i == len(ids) {
		return ids
	}
	return append(ids[:i], ids[i+1:]...)
}

// CreateNode implements `create_node(external_object_id, type) → N`
// (spec §4.4): id assigned atomically, inserted into both indices; the
// ordered insert scans and shifts the id slice, so it is linear in the node
// count, not logarithmic. The mutation is staged as metadata in
// txn so it commits or aborts with the rest of the caller's transaction
// (spec §3 lifecycle: "created inside a transaction").
func (s *Store) CreateNode(txn *journal.Transaction, externalObjectID *uint64, typ string) (*Node, error) {
	id := s.nextNodeID.Inc()
	n := newNode(id, externalObjectID, typ, s.clockNs())

	body, err := json.Marshal(mutationRecord{Op: "create_node", NodeID: id, Type: typ})
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrInvalidParam, err, "graph: marshal create_node metadata")
	}
	if err := txn.StageMetadata(s.nextMetaBlock(), body); err != nil {
		return nil, err
	}

	s.rw.Lock()
	s.nodesByID[id] = n
	s.nodeIDs = insertSorted(s.nodeIDs, id)
	s.rw.Unlock()

	s.notify(Mutation{Op: OpAdd, Node: n})
	return n, nil
}

// LookupNode implements `lookup_node(id)`, O(1) via the hash index.
func (s *Store) LookupNode(id uint64) (*Node, error) {
	s.rw.RLock()
	defer s.rw.RUnlock()
	n, ok := s.nodesByID[id]
	if !ok {
		return nil, cmn.NewErr(cmn.ErrNotFound, "node %d not found", id)
	}
	return n, nil
}

// DestroyNode implements `destroy_node(id)`: forbidden while degree > 0 in
// strict mode; cascade removes incident edges first (spec §4.4). The
// destroy is staged as metadata in txn, and the actual table removal is
// deferred until txn commits (spec §3: "memory released only after the
// transaction containing the destroy commits") — if txn aborts, the node
// and its cascaded edges remain exactly as they were.
func (s *Store) DestroyNode(txn *journal.Transaction, id uint64, cascade bool) (removedEdges int, err error) {
	n, err := s.LookupNode(id)
	if err != nil {
		return 0, err
	}
	outDeg, inDeg := n.Degree()
	if outDeg+inDeg > 0 {
		if !cascade {
			return 0, cmn.NewErr(cmn.ErrBusy, "node %d: degree %d>0, strict mode forbids destroy", id, outDeg+inDeg)
		}
		for _, eid := range append(n.OutgoingEdgeIDs(), n.IncomingEdgeIDs()...) {
			if err := s.DestroyEdge(txn, eid); err == nil {
				removedEdges++
			}
		}
	}

	body, err := json.Marshal(mutationRecord{Op: "destroy_node", NodeID: id})
	if err != nil {
		return removedEdges, cmn.WrapErr(cmn.ErrInvalidParam, err, "graph: marshal destroy_node metadata")
	}
	if err := txn.StageMetadata(s.nextMetaBlock(), body); err != nil {
		return removedEdges, err
	}

	txn.AddOnCommit(func() {
		s.rw.Lock()
		delete(s.nodesByID, id)
		s.nodeIDs = removeSorted(s.nodeIDs, id)
		s.rw.Unlock()
		s.notify(Mutation{Op: OpRemove, Node: n})
	})
	return removedEdges, nil
}

// CreateEdge implements `create_edge(src, tgt, type, weight)` (spec §4.4):
// both endpoints must resolve; appended to src.outgoing and tgt.incoming.
// The mutation is staged as metadata in the same transaction as the
// endpoints it links (spec §4.4's "updates are journaled as metadata in
// the same transaction").
func (s *Store) CreateEdge(txn *journal.Transaction, src, tgt uint64, typ string, weight float64) (*Edge, error) {
	if src == tgt {
		return nil, cmn.NewErr(cmn.ErrInvalidParam, "edge source_id must differ from target_id")
	}
	srcNode, err := s.LookupNode(src)
	if err != nil {
		return nil, err
	}
	tgtNode, err := s.LookupNode(tgt)
	if err != nil {
		return nil, err
	}

	id := s.nextEdgeID.Inc()
	e := newEdge(id, src, tgt, typ, weight, s.clockNs())

	body, err := json.Marshal(mutationRecord{Op: "create_edge", EdgeID: id, SourceID: src, TargetID: tgt, Type: typ})
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrInvalidParam, err, "graph: marshal create_edge metadata")
	}
	if err := txn.StageMetadata(s.nextMetaBlock(), body); err != nil {
		return nil, err
	}

	srcNode.mu.Lock()
	srcNode.outRefs[id] = srcNode.out.pushBack(id)
	srcNode.mu.Unlock()

	tgtNode.mu.Lock()
	tgtNode.inRefs[id] = tgtNode.in.pushBack(id)
	tgtNode.mu.Unlock()

	s.rw.Lock()
	s.edgesByID[id] = e
	s.edgeIDs = insertSorted(s.edgeIDs, id)
	s.rw.Unlock()

	s.notify(Mutation{Op: OpAdd, Edge: e})
	return e, nil
}

// LookupEdge returns the edge with the given id.
func (s *Store) LookupEdge(id uint64) (*Edge, error) {
	s.rw.RLock()
	defer s.rw.RUnlock()
	e, ok := s.edgesByID[id]
	if !ok {
		return nil, cmn.NewErr(cmn.ErrNotFound, "edge %d not found", id)
	}
	return e, nil
}

// DestroyEdge implements `destroy_edge(edge)`: symmetric removal from both
// adjacency sequences (spec §4.4). As with DestroyNode, the table removal
// and adjacency unlink are deferred to txn's commit.
func (s *Store) DestroyEdge(txn *journal.Transaction, id uint64) error {
	e, err := s.LookupEdge(id)
	if err != nil {
		return err
	}

	body, err := json.Marshal(mutationRecord{Op: "destroy_edge", EdgeID: id, SourceID: e.SourceID, TargetID: e.TargetID})
	if err != nil {
		return cmn.WrapErr(cmn.ErrInvalidParam, err, "graph: marshal destroy_edge metadata")
	}
	if err := txn.StageMetadata(s.nextMetaBlock(), body); err != nil {
		return err
	}

	txn.AddOnCommit(func() {
		if srcNode, err := s.LookupNode(e.SourceID); err == nil {
			srcNode.mu.Lock()
			if r, ok := srcNode.outRefs[id]; ok {
				srcNode.out.remove(r)
				delete(srcNode.outRefs, id)
			}
			srcNode.mu.Unlock()
		}
		if tgtNode, err := s.LookupNode(e.TargetID); err == nil {
			tgtNode.mu.Lock()
			if r, ok := tgtNode.inRefs[id]; ok {
				tgtNode.in.remove(r)
				delete(tgtNode.inRefs, id)
			}
			tgtNode.mu.Unlock()
		}

		s.rw.Lock()
		delete(s.edgesByID, id)
		s.edgeIDs = removeSorted(s.edgeIDs, id)
		s.rw.Unlock()

		s.notify(Mutation{Op: OpRemove, Edge: e})
	})
	return nil
}

// NodeCount and EdgeCount report the current cardinality of each table.
func (s *Store) NodeCount() int {
	s.rw.RLock()
	defer s.rw.RUnlock()
	return len(s.nodesByID)
}

func (s *Store) EdgeCount() int {
	s.rw.RLock()
	defer s.rw.RUnlock()
	return len(s.edgesByID)
}

// RangeNodes invokes fn for every node in ascending id order (range scan).
func (s *Store) RangeNodes(fn func(*Node) bool) {
	s.rw.RLock()
	ids := append([]uint64(nil), s.nodeIDs...)
	s.rw.RUnlock()
	for _, id := range ids {
		s.rw.RLock()
		n, ok := s.nodesByID[id]
		s.rw.RUnlock()
		if ok && !fn(n) {
			return
		}
	}
}

// RangeEdges invokes fn for every edge in ascending id order.
func (s *Store) RangeEdges(fn func(*Edge) bool) {
	s.rw.RLock()
	ids := append([]uint64(nil), s.edgeIDs...)
	s.rw.RUnlock()
	for _, id := range ids {
		s.rw.RLock()
		e, ok := s.edgesByID[id]
		s.rw.RUnlock()
		if ok && !fn(e) {
			return
		}
	}
}
