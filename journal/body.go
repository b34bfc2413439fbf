package journal

import (
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/cos"
)

// DescriptorBody enumerates the metadata (and, in Full mode, data) block
// numbers a transaction is about to commit (spec §4.1 step 5).
type DescriptorBody struct {
	TxnID      uint64
	BlockNos   []uint64
	DataBlocks []uint64 // subset written as Data records first, Full mode only
}

func EncodeDescriptor(d DescriptorBody) []byte {
	buf := make([]byte, 8+4+4+8*len(d.BlockNos)+8*len(d.DataBlocks))
	off := 0
	cos.PutU64(buf[off:], d.TxnID)
	off += 8
	cos.PutU32(buf[off:], uint32(len(d.BlockNos)))
	off += 4
	cos.PutU32(buf[off:], uint32(len(d.DataBlocks)))
	off += 4
	for _, b := range d.BlockNos {
		cos.PutU64(buf[off:], b)
		off += 8
	}
	for _, b := range d.DataBlocks {
		cos.PutU64(buf[off:], b)
		off += 8
	}
	return buf
}

func DecodeDescriptor(body []byte) (DescriptorBody, error) {
	if len(body) < 16 {
		return DescriptorBody{}, cmn.NewErr(cmn.ErrChecksum, "descriptor body too short")
	}
	off := 0
	txnID := cos.GetU64(body[off:])
	off += 8
	nBlocks := cos.GetU32(body[off:])
	off += 4
	nData := cos.GetU32(body[off:])
	off += 4
	need := off + int(nBlocks)*8 + int(nData)*8
	if need > len(body) {
		return DescriptorBody{}, cmn.NewErr(cmn.ErrChecksum, "descriptor body truncated")
	}
	d := DescriptorBody{TxnID: txnID, BlockNos: make([]uint64, nBlocks), DataBlocks: make([]uint64, nData)}
	for i := range d.BlockNos {
		d.BlockNos[i] = cos.GetU64(body[off:])
		off += 8
	}
	for i := range d.DataBlocks {
		d.DataBlocks[i] = cos.GetU64(body[off:])
		off += 8
	}
	return d, nil
}

// DataBody wraps a single journaled data block (Full mode only), tagged with
// its home block number so recovery knows where to replay it.
type DataBody struct {
	TxnID   uint64
	BlockNo uint64
	Payload []byte
}

func EncodeData(d DataBody) []byte {
	buf := make([]byte, 8+8+len(d.Payload))
	cos.PutU64(buf[0:], d.TxnID)
	cos.PutU64(buf[8:], d.BlockNo)
	copy(buf[16:], d.Payload)
	return buf
}

func DecodeData(body []byte, payloadLen int) (DataBody, error) {
	if len(body) < 16+payloadLen {
		return DataBody{}, cmn.NewErr(cmn.ErrChecksum, "data body truncated")
	}
	return DataBody{
		TxnID:   cos.GetU64(body[0:]),
		BlockNo: cos.GetU64(body[8:]),
		Payload: body[16 : 16+payloadLen],
	}, nil
}

// CommitBody carries the descriptor sequence it closes and the digest
// covering the Descriptor body and the staged metadata payloads (spec §4.1
// step 7); data payloads are not part of the digest. The
// sha256 footer on the Commit record itself covers this body, giving the
// commit a second, independent integrity check beyond the digest field.
type CommitBody struct {
	TxnID          uint64
	DescriptorSeq  uint64
	PayloadDigest  [32]byte
}

func EncodeCommit(c CommitBody) []byte {
	buf := make([]byte, 8+8+32)
	cos.PutU64(buf[0:], c.TxnID)
	cos.PutU64(buf[8:], c.DescriptorSeq)
	copy(buf[16:48], c.PayloadDigest[:])
	return buf
}

func DecodeCommit(body []byte) (CommitBody, error) {
	if len(body) < 48 {
		return CommitBody{}, cmn.NewErr(cmn.ErrChecksum, "commit body truncated")
	}
	c := CommitBody{TxnID: cos.GetU64(body[0:]), DescriptorSeq: cos.GetU64(body[8:])}
	copy(c.PayloadDigest[:], body[16:48])
	return c, nil
}

// RevokeBody suppresses replay of stale metadata for BlockNo at any sequence
// below Sequence (spec §4.1 recovery step 3).
type RevokeBody struct {
	BlockNo  uint64
	Sequence uint64
}

func EncodeRevoke(r RevokeBody) []byte {
	buf := make([]byte, 16)
	cos.PutU64(buf[0:], r.BlockNo)
	cos.PutU64(buf[8:], r.Sequence)
	return buf
}

func DecodeRevoke(body []byte) (RevokeBody, error) {
	if len(body) < 16 {
		return RevokeBody{}, cmn.NewErr(cmn.ErrChecksum, "revoke body truncated")
	}
	return RevokeBody{BlockNo: cos.GetU64(body[0:]), Sequence: cos.GetU64(body[8:])}, nil
}

// CheckpointBody records the tail sequence the checkpoint advances to.
type CheckpointBody struct {
	TailSequence uint64
}

func EncodeCheckpoint(c CheckpointBody) []byte {
	buf := make([]byte, 8)
	cos.PutU64(buf[0:], c.TailSequence)
	return buf
}

func DecodeCheckpoint(body []byte) (CheckpointBody, error) {
	if len(body) < 8 {
		return CheckpointBody{}, cmn.NewErr(cmn.ErrChecksum, "checkpoint body truncated")
	}
	return CheckpointBody{TailSequence: cos.GetU64(body[0:])}, nil
}

// BarrierKind distinguishes the kinds of synchronization points a
// transaction can request via add_barrier.
type BarrierKind uint32

const (
	BarrierFlush BarrierKind = iota + 1
	BarrierDependency
)

// BarrierBody records a barrier a transaction waited on before committing.
type BarrierBody struct {
	TxnID     uint64
	Kind      BarrierKind
	TimeoutNs uint64
}

func EncodeBarrier(b BarrierBody) []byte {
	buf := make([]byte, 8+4+8)
	cos.PutU64(buf[0:], b.TxnID)
	cos.PutU32(buf[8:], uint32(b.Kind))
	cos.PutU64(buf[12:], b.TimeoutNs)
	return buf
}

func DecodeBarrier(body []byte) (BarrierBody, error) {
	if len(body) < 20 {
		return BarrierBody{}, cmn.NewErr(cmn.ErrChecksum, "barrier body truncated")
	}
	return BarrierBody{
		TxnID:     cos.GetU64(body[0:]),
		Kind:      BarrierKind(cos.GetU32(body[8:])),
		TimeoutNs: cos.GetU64(body[12:]),
	}, nil
}

// SuperblockBody is the ring's fixed header: versions, mode, head/tail
// sequences, commit-thread count, buffer size and checkpoint interval
// (spec §4.1 "On-disk layout").
type SuperblockBody struct {
	UUID              [16]byte
	Version           uint32
	Mode              Mode
	Head              uint64
	Tail              uint64
	CommitThreads     uint32
	RingBlocks        uint64
	CheckpointInterval uint64
}

func EncodeSuperblock(s SuperblockBody) []byte {
	buf := make([]byte, 16+4+4+8+8+4+8+8)
	off := 0
	copy(buf[off:off+16], s.UUID[:])
	off += 16
	cos.PutU32(buf[off:], s.Version)
	off += 4
	cos.PutU32(buf[off:], uint32(s.Mode))
	off += 4
	cos.PutU64(buf[off:], s.Head)
	off += 8
	cos.PutU64(buf[off:], s.Tail)
	off += 8
	cos.PutU32(buf[off:], s.CommitThreads)
	off += 4
	cos.PutU64(buf[off:], s.RingBlocks)
	off += 8
	cos.PutU64(buf[off:], s.CheckpointInterval)
	return buf
}

func DecodeSuperblock(body []byte) (SuperblockBody, error) {
	const want = 16 + 4 + 4 + 8 + 8 + 4 + 8 + 8
	if len(body) < want {
		return SuperblockBody{}, cmn.NewErr(cmn.ErrChecksum, "superblock body truncated")
	}
	var s SuperblockBody
	off := 0
	copy(s.UUID[:], body[off:off+16])
	off += 16
	s.Version = cos.GetU32(body[off:])
	off += 4
	s.Mode = Mode(cos.GetU32(body[off:]))
	off += 4
	s.Head = cos.GetU64(body[off:])
	off += 8
	s.Tail = cos.GetU64(body[off:])
	off += 8
	s.CommitThreads = cos.GetU32(body[off:])
	off += 4
	s.RingBlocks = cos.GetU64(body[off:])
	off += 8
	s.CheckpointInterval = cos.GetU64(body[off:])
	return s, nil
}
