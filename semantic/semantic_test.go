package semantic

import (
	"context"
	"strings"
	"testing"

	"github.com/vexfs/vexfs/blockio"
)

func newTestLog(t *testing.T, blockSize int) *Log {
	t.Helper()
	dev := blockio.NewMemDisk(blockSize)
	clock := blockio.MonoClock{}
	return Open(Config{StartBlock: 0, BlockCount: 64, CacheEntries: 4}, dev, clock)
}

func TestAppendAndScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t, 4096)

	id1, err := l.Append(ctx, EventGraphOp, "create_node", map[string]any{"type": "file"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	id2, err := l.Append(ctx, EventVectorOp, "search", map[string]any{"k": int64(10)})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var seen []uint64
	if err := l.Scan(ctx, func(e Event) bool {
		seen = append(seen, e.ID)
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(seen) != 2 || seen[0] != id1 || seen[1] != id2 {
		t.Fatalf("expected scan order [%d %d], got %v", id1, id2, seen)
	}
}

func TestAppendRollsOverOnInsufficientRoom(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t, 256) // small block forces rollover after a few events

	for i := 0; i < 20; i++ {
		if _, err := l.Append(ctx, EventFilesystemOp, "op", map[string]any{"n": strings.Repeat("x", 20)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if l.curBlockID == 0 {
		t.Fatalf("expected at least one rollover past block 0, got curBlockID=%d", l.curBlockID)
	}

	count := 0
	if err := l.Scan(ctx, func(Event) bool { count++; return true }); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 20 {
		t.Fatalf("expected 20 events across rolled-over blocks, got %d", count)
	}
}

func TestSelectCompressionKeepsSmallestEncoding(t *testing.T) {
	small := []byte("short")
	kind, buf := selectCompression(small, 0)
	if kind != CompressNone || string(buf) != "short" {
		t.Fatalf("expected small payloads to stay uncompressed, got kind=%v len=%d", kind, len(buf))
	}

	repetitive := []byte(strings.Repeat("compressible-pattern-", 64))
	kind2, buf2 := selectCompression(repetitive, 0)
	if kind2 == CompressNone || len(buf2) >= len(repetitive) {
		t.Fatalf("expected a smaller encoding for highly repetitive input, got kind=%v len=%d orig=%d", kind2, len(buf2), len(repetitive))
	}
}

func TestScanStopsEarlyWhenCallbackReturnsFalse(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t, 4096)
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, EventAgentOp, "step", nil); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	count := 0
	if err := l.Scan(ctx, func(Event) bool {
		count++
		return count < 2
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected scan to stop after 2 events, got %d", count)
	}
}

func TestBlockCacheEvictsOldest(t *testing.T) {
	c := newBlockCache(2)
	c.put(1, []Event{{ID: 1}})
	c.put(2, []Event{{ID: 2}})
	c.put(3, []Event{{ID: 3}})

	if _, ok := c.get(1); ok {
		t.Fatalf("expected block 1 evicted under cache size 2")
	}
	if _, ok := c.get(2); !ok {
		t.Fatalf("expected block 2 still cached")
	}
	if _, ok := c.get(3); !ok {
		t.Fatalf("expected block 3 still cached")
	}
}
