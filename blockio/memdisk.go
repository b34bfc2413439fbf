package blockio

import (
	"context"
	"sync"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/atomic"
)

// MemDisk is an in-memory BlockIO used by tests and by hosts that want a
// volatile core (e.g. scratch indices). Fsync is a no-op; a real mounted
// host supplies its own BlockIO backed by the page cache / block device,
// which is out of this core's scope (spec §1).
type MemDisk struct {
	mu        sync.RWMutex
	blocks    map[uint64][]byte
	blockSize int
	fsyncs    atomic.Int64
}

func NewMemDisk(blockSize int) *MemDisk {
	return &MemDisk{blocks: make(map[uint64][]byte), blockSize: blockSize}
}

var _ BlockIO = (*MemDisk)(nil)

func (m *MemDisk) Read(_ context.Context, blockNo uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[blockNo]
	if !ok {
		out := make([]byte, m.blockSize)
		return out, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemDisk) Write(_ context.Context, blockNo uint64, data []byte) error {
	if len(data) != m.blockSize {
		return cmn.NewErr(cmn.ErrInvalidParam, "write block %d: len=%d want=%d", blockNo, len(data), m.blockSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks[blockNo] = cp
	return nil
}

func (m *MemDisk) Fsync(context.Context) error {
	m.fsyncs.Inc()
	return nil
}

func (m *MemDisk) BlockSize() int { return m.blockSize }

// FsyncCount exposes the number of completed fsync barriers, useful in tests
// that assert the commit pipeline calls fsync exactly once per commit.
func (m *MemDisk) FsyncCount() int64 { return m.fsyncs.Load() }
