package alloc

import (
	"testing"

	"github.com/vexfs/vexfs/cmn"
)

func TestGroupAllocFreeBlock(t *testing.T) {
	g := NewGroup(1, 1000, 8, 4)
	blk, err := g.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock: %v", err)
	}
	if blk != 1000 {
		t.Fatalf("expected first block 1000, got %d", blk)
	}
	if !g.BlockAllocated(blk) {
		t.Fatalf("block %d should be allocated", blk)
	}
	free, _ := g.FreeCounts()
	if free != 7 {
		t.Fatalf("expected 7 free blocks, got %d", free)
	}
	if err := g.FreeBlock(blk); err != nil {
		t.Fatalf("FreeBlock: %v", err)
	}
	free, _ = g.FreeCounts()
	if free != 8 {
		t.Fatalf("expected 8 free blocks after free, got %d", free)
	}
}

func TestGroupExhaustion(t *testing.T) {
	g := NewGroup(1, 0, 2, 0)
	if _, err := g.AllocBlock(); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := g.AllocBlock(); err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	_, err := g.AllocBlock()
	if cmn.CodeOf(err) != cmn.ErrNoMemory {
		t.Fatalf("expected ErrNoMemory, got %v", err)
	}
}

func TestGroupDoubleFree(t *testing.T) {
	g := NewGroup(1, 0, 4, 0)
	blk, _ := g.AllocBlock()
	if err := g.FreeBlock(blk); err != nil {
		t.Fatalf("first free: %v", err)
	}
	err := g.FreeBlock(blk)
	if cmn.CodeOf(err) != cmn.ErrInconsistent {
		t.Fatalf("expected ErrInconsistent on double free, got %v", err)
	}
}

func TestManagerRoutesBlockToGroup(t *testing.T) {
	m := NewManager()
	g0 := NewGroup(0, 0, 100, 16)
	g1 := NewGroup(1, 100, 100, 16)
	if err := m.AddGroup(g0); err != nil {
		t.Fatalf("add g0: %v", err)
	}
	if err := m.AddGroup(g1); err != nil {
		t.Fatalf("add g1: %v", err)
	}

	got, err := m.GroupForBlock(150)
	if err != nil {
		t.Fatalf("GroupForBlock: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected group 1, got %d", got.ID)
	}

	if _, err := m.GroupForBlock(500); cmn.CodeOf(err) != cmn.ErrNotFound {
		t.Fatalf("expected ErrNotFound for out-of-range block, got %v", err)
	}
}

func TestManagerRejectsOverlap(t *testing.T) {
	m := NewManager()
	if err := m.AddGroup(NewGroup(0, 0, 100, 8)); err != nil {
		t.Fatalf("add g0: %v", err)
	}
	err := m.AddGroup(NewGroup(1, 50, 100, 8))
	if cmn.CodeOf(err) != cmn.ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam on overlap, got %v", err)
	}
}

func TestEachAllocatedBlock(t *testing.T) {
	g := NewGroup(0, 10, 5, 0)
	a, _ := g.AllocBlock()
	b, _ := g.AllocBlock()
	seen := map[uint64]bool{}
	g.EachAllocatedBlock(func(blockNo uint64) { seen[blockNo] = true })
	if !seen[a] || !seen[b] {
		t.Fatalf("expected both allocated blocks visited, got %v", seen)
	}
	if len(seen) != 2 {
		t.Fatalf("expected exactly 2 allocated blocks, got %d", len(seen))
	}
}
