package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vexfs/vexfs/cmn"
)

// Mode selects how aggressively a transaction journals its data blocks
// (spec §4.1 "Modes").
type Mode int

const (
	Ordered Mode = iota
	Writeback
	Full
)

func (m Mode) String() string {
	switch m {
	case Ordered:
		return "Ordered"
	case Writeback:
		return "Writeback"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// State is the one-way transaction lifecycle from spec §3.
type State int

const (
	Running State = iota
	Committing
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// stagedBlock is one buffered metadata or data write awaiting commit.
type stagedBlock struct {
	blockNo uint64
	bytes   []byte
}

// Transaction is the unit of atomicity described in spec §3. Fields mirror
// the data model exactly: id, sequence, mode, priority, start_ns,
// buffered_metadata_blocks, buffered_data_blocks, dependency_set,
// barrier_count, state.
type Transaction struct {
	ID       uint64
	CorrID   uuid.UUID // dependency-set correlation id
	Mode     Mode
	Priority int
	StartNs  uint64
	MaxBlocks int
	OpKind    string

	mu               sync.Mutex
	state            State
	sequence         uint64 // the Commit record's sequence, set once committed
	metadataBlocks   []stagedBlock
	dataBlocks       []stagedBlock
	dependencySet    map[uint64]struct{} // ids of transactions this one depends on
	barrierCount     int
	pendingBarriers  []BarrierBody
	onCommit         []func()
}

func newTransaction(id uint64, corr uuid.UUID, mode Mode, priority int, startNs uint64, maxBlocks int, opKind string, deps []uint64) *Transaction {
	t := &Transaction{
		ID: id, CorrID: corr, Mode: mode, Priority: priority,
		StartNs: startNs, MaxBlocks: maxBlocks, OpKind: opKind,
		state:         Running,
		dependencySet: make(map[uint64]struct{}, len(deps)),
	}
	for _, d := range deps {
		t.dependencySet[d] = struct{}{}
	}
	return t
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Dependencies returns the set of transaction ids this one declared a
// dependency on at begin() time.
func (t *Transaction) Dependencies() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, 0, len(t.dependencySet))
	for id := range t.dependencySet {
		out = append(out, id)
	}
	return out
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// StageMetadata buffers a metadata write, legal in any mode (spec §4.1:
// "required for all modes").
func (t *Transaction) StageMetadata(blockNo uint64, bytes []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: stage_metadata in state %s", t.ID, t.state)
	}
	if len(t.metadataBlocks)+len(t.dataBlocks) >= t.MaxBlocks {
		return cmn.NewErr(cmn.ErrNoMemory, "txn %d: exceeds max_blocks=%d", t.ID, t.MaxBlocks)
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	t.metadataBlocks = append(t.metadataBlocks, stagedBlock{blockNo, cp})
	return nil
}

// StageData buffers a data write; legal only in Full mode (spec §4.1).
func (t *Transaction) StageData(blockNo uint64, bytes []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Mode != Full {
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: stage_data requires Full mode, got %s", t.ID, t.Mode)
	}
	if t.state != Running {
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: stage_data in state %s", t.ID, t.state)
	}
	if len(t.metadataBlocks)+len(t.dataBlocks) >= t.MaxBlocks {
		return cmn.NewErr(cmn.ErrNoMemory, "txn %d: exceeds max_blocks=%d", t.ID, t.MaxBlocks)
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	t.dataBlocks = append(t.dataBlocks, stagedBlock{blockNo, cp})
	return nil
}

// AddBarrier registers a synchronization point the transaction must wait on
// before committing; legal only in Full mode (spec §4.1).
func (t *Transaction) AddBarrier(kind BarrierKind, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Mode != Full {
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: add_barrier requires Full mode", t.ID)
	}
	if t.state != Running {
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: add_barrier in state %s", t.ID, t.state)
	}
	t.barrierCount++
	t.pendingBarriers = append(t.pendingBarriers, BarrierBody{
		TxnID: t.ID, Kind: kind, TimeoutNs: uint64(timeout.Nanoseconds()),
	})
	return nil
}

// AddOnCommit registers fn to run exactly once, after this transaction's
// Commit record is durable. Callers use this to defer releasing in-memory
// state (e.g. a destroyed graph node) until the destroy is no longer
// revocable by a crash (spec §3: "memory released only after the
// transaction containing the destroy commits"). fn never runs if the
// transaction aborts.
func (t *Transaction) AddOnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

// runOnCommit fires every registered onCommit callback once and clears the
// list. Called by runCommit after the transaction reaches Committed.
func (t *Transaction) runOnCommit() {
	t.mu.Lock()
	fns := append([]func(){}, t.onCommit...)
	t.onCommit = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Transaction) snapshot() (metadata, data []stagedBlock, barriers []BarrierBody) {
	t.mu.Lock()
	defer t.mu.Unlock()
	metadata = append([]stagedBlock(nil), t.metadataBlocks...)
	data = append([]stagedBlock(nil), t.dataBlocks...)
	barriers = append([]BarrierBody(nil), t.pendingBarriers...)
	return
}
