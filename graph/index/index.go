// Package index implements the multi-kind index manager (spec C12):
// ByNodeId, ByEdgeType and ByProperty(key) indices over in-memory posting
// lists. Every posting change is also written to buntdb; the manager never
// reads those entries back, so indices are not restored after a restart.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package index

import (
	"fmt"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/graph"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind distinguishes the three index kinds from spec §4.5.
type Kind int

const (
	ByNodeID Kind = iota
	ByEdgeType
	ByProperty
)

func (k Kind) String() string {
	switch k {
	case ByNodeID:
		return "ByNodeId"
	case ByEdgeType:
		return "ByEdgeType"
	case ByProperty:
		return "ByProperty"
	default:
		return "Unknown"
	}
}

// Handle identifies one index instance: its kind, and for ByProperty the
// property key it indexes.
type Handle struct {
	Kind Kind
	Key  string // only meaningful for ByProperty
}

func (h Handle) dbKey(posting string) string {
	return fmt.Sprintf("idx/%s/%s/%s", h.Kind, h.Key, posting)
}

// Stats is the {entries, bytes} pair from `statistics(kind,key)` (spec §4.5).
type Stats struct {
	Entries int
	Bytes   int64
}

// postingList is a set of graph node ids satisfying one index key.
type postingList map[uint64]struct{}

func (p postingList) sorted() []uint64 {
	out := make([]uint64, 0, len(p))
	for id := range p {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// index is one live Handle's in-memory posting-list table, keyed by the
// index's own key function output (e.g. edge type string, property value).
type index struct {
	mu       sync.RWMutex
	postings map[string]postingList
}

func newIndexTable() *index { return &index{postings: make(map[string]postingList)} }

func (t *index) add(postingKey string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pl, ok := t.postings[postingKey]
	if !ok {
		pl = make(postingList)
		t.postings[postingKey] = pl
	}
	pl[id] = struct{}{}
}

func (t *index) remove(postingKey string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pl, ok := t.postings[postingKey]; ok {
		delete(pl, id)
		if len(pl) == 0 {
			delete(t.postings, postingKey)
		}
	}
}

func (t *index) get(postingKey string) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.postings[postingKey].sorted()
}

func (t *index) stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var entries int
	var bytes int64
	for k, pl := range t.postings {
		entries += len(pl)
		bytes += int64(len(k)) + int64(len(pl)*8)
	}
	return Stats{Entries: entries, Bytes: bytes}
}

// Manager owns every live index and receives graph.Mutation notifications
// (spec §4.5): "On every graph mutation inside a transaction, the index
// manager receives a notification ... and updates postings."
type Manager struct {
	store *graph.Store
	db    *buntdb.DB

	mu      sync.RWMutex
	indices map[Handle]*index
}

var _ graph.Listener = (*Manager)(nil)

// NewManager constructs an index manager backed by a buntdb database at
// path (":memory:" for an ephemeral, non-persisted instance).
func NewManager(store *graph.Store, path string) (*Manager, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrIO, err, "index: open buntdb at %q", path)
	}
	m := &Manager{store: store, db: db, indices: make(map[Handle]*index)}
	store.AddListener(m)
	return m, nil
}

func (m *Manager) Close() error { return m.db.Close() }

// CreateIndex registers a new index kind; cost is proportional to the
// current cardinality of the indexed attribute because creation walks the
// existing graph once (spec §4.5 "Create cost").
func (m *Manager) CreateIndex(h Handle) (Stats, error) {
	m.mu.Lock()
	if _, exists := m.indices[h]; exists {
		m.mu.Unlock()
		return Stats{}, cmn.NewErr(cmn.ErrExists, "index %s already exists", h.Kind)
	}
	t := newIndexTable()
	m.indices[h] = t
	m.mu.Unlock()

	m.populate(h, t)
	return t.stats(), nil
}

// DropIndex removes an index and its persisted postings.
func (m *Manager) DropIndex(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indices[h]; !exists {
		return cmn.NewErr(cmn.ErrNotFound, "index %s not found", h.Kind)
	}
	delete(m.indices, h)
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		var toDelete []string
		prefix := fmt.Sprintf("idx/%s/%s/", h.Kind, h.Key)
		tx.AscendKeys(prefix+"*", func(k, v string) bool {
			toDelete = append(toDelete, k)
			return true
		})
		for _, k := range toDelete {
			tx.Delete(k)
		}
		return nil
	})
	return nil
}

// Rebuild replays the full population for h, optionally reporting progress
// via progress(done, total) — an addition this core makes to make the
// otherwise silent "replays the full population" contract (spec §4.5)
// observable for large graphs.
func (m *Manager) Rebuild(h Handle, progress func(done, total int)) (Stats, error) {
	m.mu.RLock()
	t, ok := m.indices[h]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, cmn.NewErr(cmn.ErrNotFound, "index %s not found", h.Kind)
	}
	t.mu.Lock()
	t.postings = make(map[string]postingList)
	t.mu.Unlock()

	m.populateWithProgress(h, t, progress)
	return t.stats(), nil
}

func (m *Manager) populate(h Handle, t *index) {
	m.populateWithProgress(h, t, nil)
}

func (m *Manager) populateWithProgress(h Handle, t *index, progress func(done, total int)) {
	total := m.store.NodeCount() + m.store.EdgeCount()
	done := 0
	report := func() {
		if progress != nil {
			progress(done, total)
		}
	}

	switch h.Kind {
	case ByNodeID:
		m.store.RangeNodes(func(n *graph.Node) bool {
			t.add("*", n.ID)
			m.persist(h, "*", n.ID, true)
			done++
			report()
			return true
		})
	case ByEdgeType:
		m.store.RangeEdges(func(e *graph.Edge) bool {
			t.add(e.Type, e.SourceID)
			m.persist(h, e.Type, e.SourceID, true)
			done++
			report()
			return true
		})
	case ByProperty:
		m.store.RangeNodes(func(n *graph.Node) bool {
			if p, ok := n.Property(h.Key); ok {
				key := fmt.Sprintf("%v", p.Value)
				t.add(key, n.ID)
				m.persist(h, key, n.ID, true)
			}
			done++
			report()
			return true
		})
	}
	report()
}

func (m *Manager) persist(h Handle, postingKey string, id uint64, add bool) {
	if m.db == nil {
		return
	}
	key := h.dbKey(postingKey) + "/" + fmt.Sprint(id)
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		if add {
			b, _ := json.Marshal(id)
			_, _, err := tx.Set(key, string(b), nil)
			return err
		}
		_, err := tx.Delete(key)
		return err
	})
}

// Lookup returns the posting list for a given key under a ByEdgeType or
// ByProperty index, or the full node set for ByNodeId.
func (m *Manager) Lookup(h Handle, key string) ([]uint64, error) {
	m.mu.RLock()
	t, ok := m.indices[h]
	m.mu.RUnlock()
	if !ok {
		return nil, cmn.NewErr(cmn.ErrNotFound, "index %s not found", h.Kind)
	}
	return t.get(key), nil
}

// Statistics implements `statistics(kind,key) → {entries, bytes}` (spec
// §4.5).
func (m *Manager) Statistics(h Handle) (Stats, error) {
	m.mu.RLock()
	t, ok := m.indices[h]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, cmn.NewErr(cmn.ErrNotFound, "index %s not found", h.Kind)
	}
	return t.stats(), nil
}

// Validate scans the graph and compares expected-vs-actual entry count,
// failing with Inconsistent on mismatch (spec §4.5).
func (m *Manager) Validate(h Handle) error {
	m.mu.RLock()
	t, ok := m.indices[h]
	m.mu.RUnlock()
	if !ok {
		return cmn.NewErr(cmn.ErrNotFound, "index %s not found", h.Kind)
	}

	var expected int
	switch h.Kind {
	case ByNodeID:
		expected = m.store.NodeCount()
	case ByEdgeType:
		m.store.RangeEdges(func(e *graph.Edge) bool {
			if e.Type != "" {
				expected++
			}
			return true
		})
	case ByProperty:
		m.store.RangeNodes(func(n *graph.Node) bool {
			if _, ok := n.Property(h.Key); ok {
				expected++
			}
			return true
		})
	}

	actual := t.stats().Entries
	if actual != expected {
		return cmn.NewErr(cmn.ErrInconsistent, "index %s: expected %d entries, found %d", h.Kind, expected, actual)
	}
	return nil
}

// OnMutation implements graph.Listener: every create_node/create_edge/
// destroy_* call inside a transaction drives this, keeping postings
// continuously up to date (spec §4.5).
func (m *Manager) OnMutation(mut graph.Mutation) {
	m.mu.RLock()
	handles := make([]Handle, 0, len(m.indices))
	for h := range m.indices {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		m.applyMutation(h, mut)
	}
}

func (m *Manager) applyMutation(h Handle, mut graph.Mutation) {
	m.mu.RLock()
	t := m.indices[h]
	m.mu.RUnlock()
	if t == nil {
		return
	}

	switch h.Kind {
	case ByNodeID:
		if mut.Node == nil {
			return
		}
		if mut.Op == graph.OpAdd {
			t.add("*", mut.Node.ID)
			m.persist(h, "*", mut.Node.ID, true)
		} else {
			t.remove("*", mut.Node.ID)
			m.persist(h, "*", mut.Node.ID, false)
		}
	case ByEdgeType:
		if mut.Edge == nil {
			return
		}
		if mut.Op == graph.OpAdd {
			t.add(mut.Edge.Type, mut.Edge.SourceID)
			m.persist(h, mut.Edge.Type, mut.Edge.SourceID, true)
		} else {
			t.remove(mut.Edge.Type, mut.Edge.SourceID)
			m.persist(h, mut.Edge.Type, mut.Edge.SourceID, false)
		}
	case ByProperty:
		if mut.Node == nil {
			return
		}
		p, ok := mut.Node.Property(h.Key)
		if !ok {
			return
		}
		key := fmt.Sprintf("%v", p.Value)
		if mut.Op == graph.OpAdd {
			t.add(key, mut.Node.ID)
			m.persist(h, key, mut.Node.ID, true)
		} else {
			t.remove(key, mut.Node.ID)
			m.persist(h, key, mut.Node.ID, false)
		}
	}
}
