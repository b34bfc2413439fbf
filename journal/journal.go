package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/atomic"
	"github.com/vexfs/vexfs/cmn/cos"
	"github.com/vexfs/vexfs/cmn/debug"
	"github.com/vexfs/vexfs/cmn/nlog"
)

const smodule = "journal"

// Config parameterizes a Journal at mount time.
type Config struct {
	StartBlock        uint64
	RingBlocks        uint64
	CommitThreads     int
	ConcurrentLimit   int
	CheckpointInterval uint64
	BarrierTimeout    time.Duration
}

// commitJob is the unit of work handed to a commit-thread goroutine.
type commitJob struct {
	txn  *Transaction
	done chan error
}

// Journal is the write-ahead log core (spec C6): it owns the on-disk ring,
// dispatches commits across a fixed pool of commit threads and runs
// recovery at mount time.
type Journal struct {
	cfg    Config
	dev    blockio.BlockIO
	clock  blockio.Clock
	uuid   uuid.UUID

	mu         sync.RWMutex // guards mode during set_mode quiescence
	mode       Mode
	head       atomic.Uint64
	tail       atomic.Uint64
	sequence   atomic.Uint64
	nextTxnID  atomic.Uint64
	nextThread atomic.Int64

	active   map[uint64]*Transaction
	activeMu sync.Mutex
	activeN  atomic.Int64

	workCh  []chan commitJob
	quit    chan struct{}
	wg      sync.WaitGroup

	Stats *Counters
}

func Open(ctx context.Context, cfg Config, dev blockio.BlockIO, clock blockio.Clock) (*Journal, error) {
	if cfg.CommitThreads <= 0 {
		cfg.CommitThreads = 4
	}
	if cfg.ConcurrentLimit <= 0 {
		cfg.ConcurrentLimit = 256
	}
	if cfg.BarrierTimeout <= 0 {
		cfg.BarrierTimeout = 5 * time.Second
	}
	j := &Journal{
		cfg:    cfg,
		dev:    dev,
		clock:  clock,
		uuid:   uuid.New(),
		mode:   Ordered,
		active: make(map[uint64]*Transaction),
		quit:   make(chan struct{}),
		Stats:  newCounters(cfg.CommitThreads),
	}
	j.tail.Store(1)
	j.head.Store(1)
	j.sequence.Store(1)

	j.workCh = make([]chan commitJob, cfg.CommitThreads)
	for i := range j.workCh {
		j.workCh[i] = make(chan commitJob, 64)
		j.wg.Add(1)
		go j.commitWorker(i)
	}

	if err := j.recover(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// Close stops the commit-thread pool. No transaction may be active.
func (j *Journal) Close() {
	close(j.quit)
	j.wg.Wait()
}

// commitWorker is one of P long-lived goroutines draining a per-thread job
// channel, styled after a demand-driven xaction run loop: select over
// incoming work, an idle path, and a shutdown signal.
func (j *Journal) commitWorker(idx int) {
	defer j.wg.Done()
	idle := time.NewTicker(30 * time.Second)
	defer idle.Stop()
	for {
		select {
		case job := <-j.workCh[idx]:
			err := j.runCommit(context.Background(), job.txn, idx)
			job.done <- err
		case <-idle.C:
			nlog.Infof("commit thread %d idle", idx)
		case <-j.quit:
			return
		}
	}
}

// Begin admits a new transaction. It enforces the concurrency limit and —
// per the dependency-set enforcement this core adds atop the declared data
// model — refuses admission if deps would close a dependency cycle with
// other still-running transactions.
func (j *Journal) Begin(maxBlocks int, opKind string, priority int, deps ...uint64) (*Transaction, error) {
	if maxBlocks <= 0 {
		return nil, cmn.NewErr(cmn.ErrInvalidParam, "max_blocks must be positive")
	}
	j.mu.RLock()
	mode := j.mode
	j.mu.RUnlock()

	if int(j.activeN.Load()) >= j.cfg.ConcurrentLimit {
		return nil, cmn.NewErr(cmn.ErrBusy, "concurrent transaction limit reached")
	}

	id := j.nextTxnID.Add(1)
	t := newTransaction(id, uuid.New(), mode, priority, j.clock.NowNs(), maxBlocks, opKind, deps)

	j.activeMu.Lock()
	defer j.activeMu.Unlock()
	if cyclic := j.wouldCycle(id, deps); cyclic {
		return nil, cmn.NewErr(cmn.ErrInvalidParam, "txn %d: dependency_set would form a cycle", id)
	}
	j.active[id] = t
	j.activeN.Inc()
	return t, nil
}

// wouldCycle reports whether admitting id with the given direct dependencies
// would close a cycle among currently active transactions. Must be called
// with activeMu held.
func (j *Journal) wouldCycle(id uint64, deps []uint64) bool {
	visited := map[uint64]bool{id: true}
	var dfs func(cur uint64) bool
	dfs = func(cur uint64) bool {
		t, ok := j.active[cur]
		if !ok {
			return false
		}
		for _, d := range t.Dependencies() {
			if d == id {
				return true
			}
			if visited[d] {
				continue
			}
			visited[d] = true
			if dfs(d) {
				return true
			}
		}
		return false
	}
	for _, d := range deps {
		if d == id {
			return true
		}
		if dfs(d) {
			return true
		}
	}
	return false
}

// Commit drives the commit pipeline described in spec §4.1: dispatch to a
// round-robin commit thread, optionally journal data blocks, wait on
// barriers, write Descriptor/Commit records, fsync, and transition state.
func (j *Journal) Commit(ctx context.Context, t *Transaction) error {
	t.mu.Lock()
	if t.state != Running {
		st := t.state
		t.mu.Unlock()
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: commit from state %s", t.ID, st)
	}
	t.state = Committing
	t.mu.Unlock()

	thread := int(j.nextThread.Add(1)-1) % len(j.workCh)
	job := commitJob{txn: t, done: make(chan error, 1)}

	select {
	case j.workCh[thread] <- job:
	case <-ctx.Done():
		t.setState(Aborted)
		return cmn.WrapErr(cmn.ErrTimeout, ctx.Err(), "txn %d: dispatch timed out", t.ID)
	}

	select {
	case err := <-job.done:
		j.activeMu.Lock()
		delete(j.active, t.ID)
		j.activeMu.Unlock()
		j.activeN.Dec()
		return err
	case <-ctx.Done():
		t.setState(Aborted)
		return cmn.WrapErr(cmn.ErrTimeout, ctx.Err(), "txn %d: commit timed out", t.ID)
	}
}

// runCommit executes the pipeline body on behalf of commitWorker(thread).
func (j *Journal) runCommit(ctx context.Context, t *Transaction, thread int) error {
	metadata, data, barriers := t.snapshot()

	for _, b := range barriers {
		if err := j.waitBarrier(ctx, b); err != nil {
			t.setState(Aborted)
			j.Stats.Aborts.Inc()
			j.Stats.BarrierTimeouts.Inc()
			return err
		}
	}

	blockSize := j.dev.BlockSize()
	var dataBlockNos []uint64

	if t.Mode == Full {
		for _, db := range data {
			seq := j.sequence.Add(1)
			rec, err := Encode(blockSize, KindData, seq, EncodeData(DataBody{TxnID: t.ID, BlockNo: db.blockNo, Payload: db.bytes}))
			if err != nil {
				t.setState(Aborted)
				j.Stats.Aborts.Inc()
				return err
			}
			if err := j.writeRing(ctx, seq, rec); err != nil {
				t.setState(Aborted)
				j.Stats.Aborts.Inc()
				return cmn.WrapErr(cmn.ErrIO, err, "txn %d: write data record", t.ID)
			}
			dataBlockNos = append(dataBlockNos, db.blockNo)
		}
	} else {
		// Ordered/Writeback: data goes straight to its home location.
		for _, db := range data {
			if err := j.dev.Write(ctx, db.blockNo, db.bytes); err != nil {
				t.setState(Aborted)
				j.Stats.Aborts.Inc()
				return cmn.WrapErr(cmn.ErrIO, err, "txn %d: write home block %d", t.ID, db.blockNo)
			}
		}
		if t.Mode == Ordered {
			if err := j.dev.Fsync(ctx); err != nil {
				t.setState(Aborted)
				j.Stats.Aborts.Inc()
				return cmn.WrapErr(cmn.ErrIO, err, "txn %d: ordered data fsync", t.ID)
			}
		}
	}

	blockNos := make([]uint64, len(metadata))
	for i, m := range metadata {
		blockNos[i] = m.blockNo
	}
	descSeq := j.sequence.Add(1)
	descBody := EncodeDescriptor(DescriptorBody{TxnID: t.ID, BlockNos: blockNos, DataBlocks: dataBlockNos})
	descRec, err := Encode(blockSize, KindDescriptor, descSeq, descBody)
	if err != nil {
		t.setState(Aborted)
		j.Stats.Aborts.Inc()
		return err
	}
	if err := j.writeRing(ctx, descSeq, descRec); err != nil {
		t.setState(Aborted)
		j.Stats.Aborts.Inc()
		return cmn.WrapErr(cmn.ErrIO, err, "txn %d: write descriptor", t.ID)
	}

	digestInput := append([]byte(nil), descBody...)
	for _, m := range metadata {
		if t.Mode == Full {
			metaSeq := j.sequence.Add(1)
			if err := j.writeRingHome(ctx, t.ID, metaSeq, blockSize, m); err != nil {
				t.setState(Aborted)
				j.Stats.Aborts.Inc()
				return err
			}
		} else {
			// A home write is a whole device block: a shorter staged record
			// (e.g. a graph mutation) is zero-padded to blockSize.
			block := m.bytes
			if len(block) < blockSize {
				block = make([]byte, blockSize)
				copy(block, m.bytes)
			}
			if err := j.dev.Write(ctx, m.blockNo, block); err != nil {
				t.setState(Aborted)
				j.Stats.Aborts.Inc()
				return cmn.WrapErr(cmn.ErrIO, err, "txn %d: write metadata block %d", t.ID, m.blockNo)
			}
		}
		digestInput = append(digestInput, m.bytes...)
	}

	digest := shaOf(digestInput)
	commitSeq := j.sequence.Add(1)
	commitBody := EncodeCommit(CommitBody{TxnID: t.ID, DescriptorSeq: descSeq, PayloadDigest: digest})
	commitRec, err := Encode(blockSize, KindCommit, commitSeq, commitBody)
	if err != nil {
		t.setState(Aborted)
		j.Stats.Aborts.Inc()
		return err
	}

	if err := j.dev.Fsync(ctx); err != nil {
		t.setState(Aborted)
		j.Stats.Aborts.Inc()
		return cmn.WrapErr(cmn.ErrIO, err, "txn %d: pre-commit fsync", t.ID)
	}
	if err := j.writeRing(ctx, commitSeq, commitRec); err != nil {
		t.setState(Aborted)
		j.Stats.Aborts.Inc()
		return cmn.WrapErr(cmn.ErrIO, err, "txn %d: write commit record", t.ID)
	}
	if err := j.dev.Fsync(ctx); err != nil {
		t.setState(Aborted)
		j.Stats.Aborts.Inc()
		return cmn.WrapErr(cmn.ErrIO, err, "txn %d: post-commit fsync", t.ID)
	}

	t.setState(Committed)
	t.mu.Lock()
	t.sequence = commitSeq
	t.mu.Unlock()
	t.runOnCommit()
	j.Stats.recordCommit(thread)
	j.Stats.BytesWritten.Add(int64(len(descRec) + len(commitRec)))
	debug.Assert(t.State() == Committed, "txn must be Committed after runCommit")
	return nil
}

func shaOf(b []byte) [32]byte {
	return cos.SHA256(b)
}

// Abort rolls back a Running transaction's staged buffers. No on-disk trace
// is left beyond an explicit Revoke if a descriptor had already been written
// (spec §4.1) — this implementation only calls runCommit after Abort is no
// longer possible, so Abort here always precedes any descriptor write.
func (j *Journal) Abort(t *Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return cmn.NewErr(cmn.ErrInvalidParam, "txn %d: abort from state %s", t.ID, t.state)
	}
	t.state = Aborted
	t.metadataBlocks = nil
	t.dataBlocks = nil
	j.activeMu.Lock()
	delete(j.active, t.ID)
	j.activeMu.Unlock()
	j.activeN.Dec()
	j.Stats.Aborts.Inc()
	return nil
}

// waitBarrier blocks until the barrier's condition is satisfied or its
// timeout elapses.
func (j *Journal) waitBarrier(ctx context.Context, b BarrierBody) error {
	timeout := time.Duration(b.TimeoutNs)
	if timeout <= 0 {
		timeout = j.cfg.BarrierTimeout
	}
	// This core's barriers are synchronization points against the ring's own
	// fsync cadence; without an external coordinator to wait on, satisfying
	// a barrier reduces to an immediate fsync with a bounded deadline.
	deadline := time.After(timeout)
	done := make(chan error, 1)
	go func() { done <- j.dev.Fsync(ctx) }()
	select {
	case err := <-done:
		return err
	case <-deadline:
		return cmn.NewErr(cmn.ErrTimeout, "barrier %v on txn %d timed out after %s", b.Kind, b.TxnID, timeout)
	}
}

// SetMode quiesces to zero active transactions, then switches the mode new
// Begin() calls receive (spec §4.1 set_mode).
func (j *Journal) SetMode(ctx context.Context, mode Mode) error {
	for {
		if j.activeN.Load() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return cmn.WrapErr(cmn.ErrTimeout, ctx.Err(), "set_mode: quiesce timed out")
		case <-time.After(10 * time.Millisecond):
		}
	}
	j.mu.Lock()
	j.mode = mode
	j.mu.Unlock()
	return nil
}

// Mode returns the journal's current mode.
func (j *Journal) Mode() Mode {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.mode
}

func (j *Journal) ringBlockFor(seq uint64) uint64 {
	return j.cfg.StartBlock + 1 + (seq % (j.cfg.RingBlocks - 1))
}

func (j *Journal) writeRing(ctx context.Context, seq uint64, rec []byte) error {
	blockNo := j.ringBlockFor(seq)
	if err := j.dev.Write(ctx, blockNo, rec); err != nil {
		return err
	}
	j.head.Store(seq)
	return nil
}

func (j *Journal) writeRingHome(ctx context.Context, txnID, seq uint64, blockSize int, m stagedBlock) error {
	rec, err := Encode(blockSize, KindData, seq, EncodeData(DataBody{TxnID: txnID, BlockNo: m.blockNo, Payload: m.bytes}))
	if err != nil {
		return err
	}
	return j.writeRing(ctx, seq, rec)
}

// Checkpoint writes a Checkpoint record and advances the ring's tail up to
// the oldest sequence still referenced by an active transaction.
func (j *Journal) Checkpoint(ctx context.Context) error {
	j.activeMu.Lock()
	oldest := j.sequence.Load()
	for _, t := range j.active {
		if t.sequence != 0 && t.sequence < oldest {
			oldest = t.sequence
		}
	}
	j.activeMu.Unlock()

	blockSize := j.dev.BlockSize()
	seq := j.sequence.Add(1)
	body := EncodeCheckpoint(CheckpointBody{TailSequence: oldest})
	rec, err := Encode(blockSize, KindCheckpoint, seq, body)
	if err != nil {
		return err
	}
	if err := j.writeRing(ctx, seq, rec); err != nil {
		return cmn.WrapErr(cmn.ErrIO, err, "checkpoint: write record")
	}
	if err := j.dev.Fsync(ctx); err != nil {
		return cmn.WrapErr(cmn.ErrIO, err, "checkpoint: fsync")
	}
	j.tail.Store(oldest)
	return nil
}

// recover scans the ring at mount time and replays any transaction whose
// Commit record is present and verified (spec §4.1 "Recovery").
func (j *Journal) recover(ctx context.Context) error {
	head, tail := j.head.Load(), j.tail.Load()
	if head <= tail {
		return nil
	}

	descriptors := map[uint64]DescriptorBody{}
	dataByTxn := map[uint64]map[uint64][]byte{} // txnID -> blockNo -> payload
	commits := map[uint64]CommitBody{}           // descSeq -> commit body
	commitSeqs := map[uint64]uint64{}            // descSeq -> the commit record's own ring sequence
	revokes := map[uint64]uint64{}                // blockNo -> min valid sequence

	var discardFrom uint64
	for seq := tail; seq <= head; seq++ {
		blockNo := j.ringBlockFor(seq)
		raw, err := j.dev.Read(ctx, blockNo)
		if err != nil {
			return cmn.WrapErr(cmn.ErrIO, err, "recover: read block %d", blockNo)
		}
		rec, err := Decode(raw)
		if err != nil {
			j.Stats.ChecksumErrors.Inc()
			discardFrom = seq
			break
		}
		switch rec.Kind {
		case KindDescriptor:
			d, err := DecodeDescriptor(rec.Body)
			if err == nil {
				descriptors[seq] = d
			}
		case KindData:
			if len(rec.Body) < 16 {
				break
			}
			db, err := DecodeData(rec.Body, len(rec.Body)-16)
			if err != nil {
				break
			}
			blocks := dataByTxn[db.TxnID]
			if blocks == nil {
				blocks = map[uint64][]byte{}
				dataByTxn[db.TxnID] = blocks
			}
			blocks[db.BlockNo] = db.Payload
		case KindCommit:
			c, err := DecodeCommit(rec.Body)
			if err == nil {
				commits[c.DescriptorSeq] = c
				commitSeqs[c.DescriptorSeq] = rec.Sequence
			}
		case KindRevoke:
			r, err := DecodeRevoke(rec.Body)
			if err == nil {
				revokes[r.BlockNo] = r.Sequence
			}
		}
	}
	if discardFrom != 0 {
		nlog.Warningf("recover: torn write detected at sequence %d, discarding tail", discardFrom)
		head = discardFrom - 1
	}

	var replayedThrough uint64
	for descSeq, d := range descriptors {
		c, ok := commits[descSeq]
		if !ok {
			continue
		}
		blocks := dataByTxn[c.TxnID]
		replayed := false
		for _, blockNo := range append(append([]uint64(nil), d.BlockNos...), d.DataBlocks...) {
			if minSeq, revoked := revokes[blockNo]; revoked && descSeq < minSeq {
				continue
			}
			payload, ok := blocks[blockNo]
			if !ok {
				// Not journaled (Ordered/Writeback already wrote it straight
				// to its home location at commit time); nothing to replay.
				continue
			}
			if err := j.dev.Write(ctx, blockNo, payload); err != nil {
				return cmn.WrapErr(cmn.ErrIO, err, "recover: replay txn %d block %d", c.TxnID, blockNo)
			}
			nlog.Infof("recover: replayed txn %d block %d (commit seq %d)", c.TxnID, blockNo, descSeq)
			replayed = true
		}
		if replayed {
			if seq := commitSeqs[descSeq]; seq > replayedThrough {
				replayedThrough = seq
			}
		}
	}

	if replayedThrough != 0 {
		if err := j.dev.Fsync(ctx); err != nil {
			return cmn.WrapErr(cmn.ErrIO, err, "recover: fsync replayed blocks")
		}
		j.tail.Store(replayedThrough + 1)
	}

	j.head.Store(head)
	return nil
}

var _ fmt.Stringer = Mode(0)
