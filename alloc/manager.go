package alloc

import (
	"sort"
	"sync"

	"github.com/vexfs/vexfs/cmn"
)

// Manager owns the full set of allocation groups and routes block/inode
// numbers to the group that covers them. It is the single allocation
// entry point the journal and vector/graph cores hold a reference to.
type Manager struct {
	mu     sync.RWMutex
	groups []*Group // sorted by StartBlock
	byID   map[uint32]*Group
}

func NewManager() *Manager {
	return &Manager{byID: make(map[uint32]*Group)}
}

// AddGroup registers a new allocation group. Groups must not overlap in
// block range; callers typically add groups once at mount time.
func (m *Manager) AddGroup(g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[g.ID]; exists {
		return cmn.NewErr(cmn.ErrExists, "allocation group %d already registered", g.ID)
	}
	for _, existing := range m.groups {
		lo, hi := existing.StartBlock, existing.StartBlock+uint64(existing.BlockCount)
		if g.StartBlock < hi && g.StartBlock+uint64(g.BlockCount) > lo {
			return cmn.NewErr(cmn.ErrInvalidParam, "group %d overlaps group %d", g.ID, existing.ID)
		}
	}
	m.groups = append(m.groups, g)
	sort.Slice(m.groups, func(i, j int) bool { return m.groups[i].StartBlock < m.groups[j].StartBlock })
	m.byID[g.ID] = g
	return nil
}

// Group returns the group with the given id.
func (m *Manager) Group(id uint32) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.byID[id]
	if !ok {
		return nil, cmn.NewErr(cmn.ErrNotFound, "allocation group %d not found", id)
	}
	return g, nil
}

// GroupForBlock locates the group that owns an absolute block number.
func (m *Manager) GroupForBlock(blockNo uint64) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.groups), func(i int) bool {
		return m.groups[i].StartBlock+uint64(m.groups[i].BlockCount) > blockNo
	})
	if i < len(m.groups) && m.groups[i].StartBlock <= blockNo {
		return m.groups[i], nil
	}
	return nil, cmn.NewErr(cmn.ErrNotFound, "no allocation group covers block %d", blockNo)
}

// AllocBlockAny tries each group in order until one yields a free block —
// used when the caller has no locality preference.
func (m *Manager) AllocBlockAny() (uint64, uint32, error) {
	m.mu.RLock()
	groups := make([]*Group, len(m.groups))
	copy(groups, m.groups)
	m.mu.RUnlock()

	for _, g := range groups {
		if blk, err := g.AllocBlock(); err == nil {
			return blk, g.ID, nil
		}
	}
	return 0, 0, cmn.NewErr(cmn.ErrNoMemory, "no allocation group has a free block")
}

// Each invokes fn for every registered group, in ascending start-block order
// — the driver for a full orphan-resolver sweep (spec §4.2).
func (m *Manager) Each(fn func(g *Group)) {
	m.mu.RLock()
	groups := make([]*Group, len(m.groups))
	copy(groups, m.groups)
	m.mu.RUnlock()
	for _, g := range groups {
		fn(g)
	}
}
