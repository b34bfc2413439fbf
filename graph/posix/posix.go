// Package posix implements the bidirectional external_object_id <->
// graph_node_id mapping (spec C14), two ordered indices with O(log n)
// lookups and a monotonic view_version counter for torn-view detection.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package posix

import (
	"sort"
	"sync"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/atomic"
	"github.com/vexfs/vexfs/graph"
	"github.com/vexfs/vexfs/journal"
)

// entry is one mapping row, kept in both ordered slices.
type entry struct {
	objectID uint64
	nodeID   uint64
}

// Mapper owns the two ordered indices (by object id, by node id) and the
// node type used when creating awareness nodes.
type Mapper struct {
	store *graph.Store

	mu        sync.RWMutex
	byObject  []entry // sorted by objectID
	byNode    []entry // sorted by nodeID

	viewVersion atomic.Uint64
}

func NewMapper(store *graph.Store) *Mapper {
	return &Mapper{store: store}
}

// ViewVersion returns the current monotonic counter value. Readers sample
// it before and after a multi-step read to detect a torn view (spec §4.7).
func (m *Mapper) ViewVersion() uint64 {
	return m.viewVersion.Load()
}

func searchByObject(rows []entry, id uint64) (int, bool) {
	i := sort.Search(len(rows), func(i int) bool { return rows[i].objectID >= id })
	return i, i < len(rows) && rows[i].objectID == id
}

func searchByNode(rows []entry, id uint64) (int, bool) {
	i := sort.Search(len(rows), func(i int) bool { return rows[i].nodeID >= id })
	return i, i < len(rows) && rows[i].nodeID == id
}

func insertAt(rows []entry, i int, e entry) []entry {
	rows = append(rows, entry{})
	copy(rows[i+1:], rows[i:])
	rows[i] = e
	return rows
}

func removeAt(rows []entry, i int) []entry {
	return append(rows[:i], rows[i+1:]...)
}

// EnableAwareness creates a node of the given type and inserts the mapping
// from objectID to it (spec §4.7). Fails with Exists if objectID is
// already mapped. The node create is staged in txn, so the mapping only
// becomes durable once the caller commits txn.
func (m *Mapper) EnableAwareness(txn *journal.Transaction, objectID uint64, nodeType string) (*graph.Node, error) {
	m.mu.Lock()
	if _, found := searchByObject(m.byObject, objectID); found {
		m.mu.Unlock()
		return nil, cmn.NewErr(cmn.ErrExists, "object %d already has a graph mapping", objectID)
	}
	m.mu.Unlock()

	ext := objectID
	n, err := m.store.CreateNode(txn, &ext, nodeType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	oi, _ := searchByObject(m.byObject, objectID)
	m.byObject = insertAt(m.byObject, oi, entry{objectID: objectID, nodeID: n.ID})
	ni, _ := searchByNode(m.byNode, n.ID)
	m.byNode = insertAt(m.byNode, ni, entry{objectID: objectID, nodeID: n.ID})
	m.mu.Unlock()

	m.viewVersion.Inc()
	return n, nil
}

// DisableAwareness removes the mapping and destroys the node; strict mode
// forbids destroying a node with live edges unless cascade is set
// (spec §4.7, delegating node-destroy semantics to graph.Store). The
// mapping rows are removed only once txn commits, matching the deferred
// release graph.Store.DestroyNode applies to the node itself.
func (m *Mapper) DisableAwareness(txn *journal.Transaction, objectID uint64, cascade bool) error {
	m.mu.Lock()
	oi, found := searchByObject(m.byObject, objectID)
	if !found {
		m.mu.Unlock()
		return cmn.NewErr(cmn.ErrNotFound, "object %d has no graph mapping", objectID)
	}
	nodeID := m.byObject[oi].nodeID
	m.mu.Unlock()

	if _, err := m.store.DestroyNode(txn, nodeID, cascade); err != nil {
		return err
	}

	txn.AddOnCommit(func() {
		m.mu.Lock()
		if oi, found := searchByObject(m.byObject, objectID); found {
			m.byObject = removeAt(m.byObject, oi)
		}
		if ni, found := searchByNode(m.byNode, nodeID); found {
			m.byNode = removeAt(m.byNode, ni)
		}
		m.mu.Unlock()
		m.viewVersion.Inc()
	})
	return nil
}

// NodeForObject resolves external_object_id -> graph_node_id, O(log n).
func (m *Mapper) NodeForObject(objectID uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, found := searchByObject(m.byObject, objectID)
	if !found {
		return 0, cmn.NewErr(cmn.ErrNotFound, "object %d has no graph mapping", objectID)
	}
	return m.byObject[i].nodeID, nil
}

// ObjectForNode resolves graph_node_id -> external_object_id, O(log n).
func (m *Mapper) ObjectForNode(nodeID uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, found := searchByNode(m.byNode, nodeID)
	if !found {
		return 0, cmn.NewErr(cmn.ErrNotFound, "node %d has no object mapping", nodeID)
	}
	return m.byNode[i].objectID, nil
}

// Count returns the number of live mappings.
func (m *Mapper) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byObject)
}
