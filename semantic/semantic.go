// Package semantic implements the append-only semantic event log (spec
// C15): fixed-size storage blocks with a checksummed header, a compression
// selector that keeps whichever of none/LZ4/zstd is smallest, and an
// LRU-cached block reader.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package semantic

import (
	"container/list"
	"context"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v3"
	jsoniter "github.com/json-iterator/go"

	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventKind tags the four event families from spec §4.8.
type EventKind uint8

const (
	EventFilesystemOp EventKind = iota
	EventGraphOp
	EventVectorOp
	EventAgentOp
)

func (k EventKind) String() string {
	switch k {
	case EventFilesystemOp:
		return "FilesystemOp"
	case EventGraphOp:
		return "GraphOp"
	case EventVectorOp:
		return "VectorOp"
	case EventAgentOp:
		return "AgentOp"
	default:
		return "Unknown"
	}
}

// Event is one typed, append-only log record.
type Event struct {
	ID        uint64
	Kind      EventKind
	TimeNs    uint64
	Operation string
	Context   map[string]any
}

// CompressionKind records which codec (if any) was applied to a block's
// event payload region (spec §4.8 "compression selector").
type CompressionKind uint8

const (
	CompressNone CompressionKind = iota
	CompressLZ4
	CompressZstd
)

const (
	blockMagic    uint32 = 0x56584553 // "VXES"
	blockVersion  uint32 = 1
	blockHeaderSz        = 4 + 4 + 8 + 4 + 4 + 8 + 8 + 1 + 32 // magic,version,block_id,event_count,used_bytes,first_event_id,last_event_id,compression_kind,sha256
)

// blockHeader is the fixed header at the start of every semantic-log
// storage block (spec §4.8).
type blockHeader struct {
	Magic           uint32
	Version         uint32
	BlockID         uint64
	EventCount      uint32
	UsedBytes       uint32
	FirstEventID    uint64
	LastEventID     uint64
	CompressionKind CompressionKind
	SHA256          [32]byte
}

func encodeHeader(h blockHeader, payload []byte) []byte {
	buf := make([]byte, blockHeaderSz)
	off := 0
	cos.PutU32(buf[off:], h.Magic)
	off += 4
	cos.PutU32(buf[off:], h.Version)
	off += 4
	cos.PutU64(buf[off:], h.BlockID)
	off += 8
	cos.PutU32(buf[off:], h.EventCount)
	off += 4
	cos.PutU32(buf[off:], h.UsedBytes)
	off += 4
	cos.PutU64(buf[off:], h.FirstEventID)
	off += 8
	cos.PutU64(buf[off:], h.LastEventID)
	off += 8
	buf[off] = byte(h.CompressionKind)
	off++
	digest := cos.SHA256(payload)
	copy(buf[off:off+32], digest[:])
	return buf
}

func decodeHeader(buf []byte) (blockHeader, error) {
	if len(buf) < blockHeaderSz {
		return blockHeader{}, cmn.NewErr(cmn.ErrInvalidParam, "semantic block header too small: %d bytes", len(buf))
	}
	var h blockHeader
	off := 0
	h.Magic = cos.GetU32(buf[off:])
	off += 4
	if h.Magic != blockMagic {
		return h, cmn.NewErr(cmn.ErrChecksum, "bad semantic block magic: %#x", h.Magic)
	}
	h.Version = cos.GetU32(buf[off:])
	off += 4
	h.BlockID = cos.GetU64(buf[off:])
	off += 8
	h.EventCount = cos.GetU32(buf[off:])
	off += 4
	h.UsedBytes = cos.GetU32(buf[off:])
	off += 4
	h.FirstEventID = cos.GetU64(buf[off:])
	off += 8
	h.LastEventID = cos.GetU64(buf[off:])
	off += 8
	h.CompressionKind = CompressionKind(buf[off])
	off++
	copy(h.SHA256[:], buf[off:off+32])
	return h, nil
}

// defaultCompressionThreshold is used when Config.CompressionThreshold is
// left at zero (spec §4.8: events below this size are never worth
// compressing).
const defaultCompressionThreshold = 128

// selectCompression tries none -> LZ4 -> zstd and keeps whichever encoding
// is smallest; ties and "compressed isn't smaller" both keep it uncompressed
// (spec §4.8: "if compressed output is not smaller, store uncompressed").
func selectCompression(raw []byte, threshold int) (CompressionKind, []byte) {
	if threshold <= 0 {
		threshold = defaultCompressionThreshold
	}
	if len(raw) < threshold {
		return CompressNone, raw
	}

	best := CompressNone
	bestBuf := raw

	if lz4Buf, err := compressLZ4(raw); err == nil && len(lz4Buf) < len(bestBuf) {
		best, bestBuf = CompressLZ4, lz4Buf
	}
	if zstdBuf, err := compressZstd(raw); err == nil && len(zstdBuf) < len(bestBuf) {
		best, bestBuf = CompressZstd, zstdBuf
	}
	return best, bestBuf
}

func compressLZ4(raw []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(raw)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(raw, out, ht[:])
	if err != nil {
		return nil, err
	}
	if n == 0 { // incompressible per lz4's own signal
		return nil, cmn.NewErr(cmn.ErrNotSupported, "lz4: incompressible input")
	}
	return out[:n], nil
}

func decompressLZ4(compressed []byte, rawSize int) ([]byte, error) {
	out := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrIO, err, "lz4: decompress block")
	}
	return out[:n], nil
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

func compressZstd(raw []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decompressZstd(compressed []byte, rawSize int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawSize))
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrIO, err, "zstd: decompress block")
	}
	return out, nil
}

// blockCache is a block-id-keyed LRU cache of decoded event slices
// (spec §4.8).
type blockCache struct {
	mu       sync.Mutex
	maxEntries int
	ll       *list.List
	items    map[uint64]*list.Element
}

type cacheEntry struct {
	blockID uint64
	events  []Event
}

func newBlockCache(maxEntries int) *blockCache {
	return &blockCache{maxEntries: maxEntries, ll: list.New(), items: make(map[uint64]*list.Element)}
}

func (c *blockCache) get(blockID uint64) ([]Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[blockID]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).events, true
}

func (c *blockCache) put(blockID uint64, events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[blockID]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).events = events
		return
	}
	el := c.ll.PushFront(&cacheEntry{blockID: blockID, events: events})
	c.items[blockID] = el
	if c.maxEntries > 0 {
		for c.ll.Len() > c.maxEntries {
			oldest := c.ll.Back()
			if oldest == nil {
				break
			}
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).blockID)
		}
	}
}

// Config configures the event log.
type Config struct {
	StartBlock           uint64
	BlockCount           uint64
	CacheEntries         int // max cached decoded blocks
	CompressionThreshold int // bytes; 0 uses defaultCompressionThreshold
}

// Log is the append-only semantic event log (spec §4.8).
type Log struct {
	cfg   Config
	dev   blockio.BlockIO
	clock blockio.Clock

	mu           sync.Mutex
	curBlockID   uint64
	curEvents    []Event
	curUsed      int
	nextEventID  uint64
	cache        *blockCache
}

// Open attaches a semantic log to a device region starting at cfg.StartBlock.
func Open(cfg Config, dev blockio.BlockIO, clock blockio.Clock) *Log {
	return &Log{
		cfg:        cfg,
		dev:        dev,
		clock:      clock,
		curBlockID: cfg.StartBlock,
		cache:      newBlockCache(cfg.CacheEntries),
	}
}

// Append adds an event to the current block, rolling over to a new block
// when there's insufficient room (spec §4.8 "append(event)").
func (l *Log) Append(ctx context.Context, kind EventKind, operation string, attrs map[string]any) (uint64, error) {
	raw, err := json.Marshal(Event{Kind: kind, Operation: operation, Context: attrs})
	if err != nil {
		return 0, cmn.WrapErr(cmn.ErrInvalidParam, err, "semantic: marshal event")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextEventID
	l.nextEventID++
	ev := Event{ID: id, Kind: kind, TimeNs: l.clock.WallNs(), Operation: operation, Context: attrs}

	blockSize := l.dev.BlockSize()
	capacity := blockSize - blockHeaderSz
	if l.curUsed+len(raw) > capacity && l.curUsed > 0 {
		if err := l.flushLocked(ctx); err != nil {
			return 0, err
		}
		l.curBlockID++
	}

	l.curEvents = append(l.curEvents, ev)
	l.curUsed += len(raw)
	return id, nil
}

// flushLocked serializes the current block to its device location. Caller
// must hold l.mu.
func (l *Log) flushLocked(ctx context.Context) error {
	if len(l.curEvents) == 0 {
		return nil
	}
	raw, err := json.Marshal(l.curEvents)
	if err != nil {
		return cmn.WrapErr(cmn.ErrInvalidParam, err, "semantic: marshal block payload")
	}
	kind, payload := selectCompression(raw, l.cfg.CompressionThreshold)

	h := blockHeader{
		Magic:           blockMagic,
		Version:         blockVersion,
		BlockID:         l.curBlockID,
		EventCount:      uint32(len(l.curEvents)),
		UsedBytes:       uint32(len(payload)),
		FirstEventID:    l.curEvents[0].ID,
		LastEventID:     l.curEvents[len(l.curEvents)-1].ID,
		CompressionKind: kind,
	}
	header := encodeHeader(h, raw)

	blockSize := l.dev.BlockSize()
	if blockHeaderSz+len(payload) > blockSize {
		return cmn.NewErr(cmn.ErrNoMemory, "semantic: block %d payload %d exceeds block size %d", l.curBlockID, len(payload), blockSize)
	}
	buf := make([]byte, blockSize)
	copy(buf, header)
	copy(buf[blockHeaderSz:], payload)

	if err := l.dev.Write(ctx, l.curBlockID, buf); err != nil {
		return cmn.WrapErr(cmn.ErrIO, err, "semantic: write block %d", l.curBlockID)
	}
	l.cache.put(l.curBlockID, l.curEvents)

	l.curEvents = nil
	l.curUsed = 0
	return nil
}

// Flush forces the current in-progress block to be written out.
func (l *Log) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

// readBlock loads and decodes one storage block, consulting the LRU cache
// first.
func (l *Log) readBlock(ctx context.Context, blockID uint64) ([]Event, error) {
	if events, ok := l.cache.get(blockID); ok {
		return events, nil
	}

	buf, err := l.dev.Read(ctx, blockID)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ErrIO, err, "semantic: read block %d", blockID)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	payload := buf[blockHeaderSz : blockHeaderSz+int(h.UsedBytes)]

	var raw []byte
	switch h.CompressionKind {
	case CompressNone:
		raw = payload
	case CompressLZ4:
		raw, err = decompressLZ4(payload, blockSizeHint)
		if err != nil {
			return nil, err
		}
	case CompressZstd:
		raw, err = decompressZstd(payload, blockSizeHint)
		if err != nil {
			return nil, err
		}
	default:
		return nil, cmn.NewErr(cmn.ErrNotSupported, "semantic: unknown compression kind %d", h.CompressionKind)
	}

	if !cos.VerifySHA256(raw, h.SHA256) {
		return nil, cmn.NewErr(cmn.ErrChecksum, "semantic: sha256 mismatch in block %d", blockID)
	}

	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, cmn.WrapErr(cmn.ErrInvalidParam, err, "semantic: unmarshal block %d", blockID)
	}
	l.cache.put(blockID, events)
	return events, nil
}

// blockSizeHint bounds decompression output buffer pre-allocation; actual
// size is self-describing once JSON-decoded.
const blockSizeHint = 1 << 20

// Scan walks every written block from StartBlock to the current block,
// invoking fn for every event in order. Stops early if fn returns false.
func (l *Log) Scan(ctx context.Context, fn func(Event) bool) error {
	l.mu.Lock()
	last := l.curBlockID
	l.mu.Unlock()

	for id := l.cfg.StartBlock; id <= last; id++ {
		events, err := l.readBlock(ctx, id)
		if err != nil {
			if id == last {
				// current block may not be flushed yet; that's expected.
				break
			}
			return err
		}
		for _, ev := range events {
			if !fn(ev) {
				return nil
			}
		}
	}

	l.mu.Lock()
	pending := append([]Event(nil), l.curEvents...)
	l.mu.Unlock()
	for _, ev := range pending {
		if !fn(ev) {
			return nil
		}
	}
	return nil
}
