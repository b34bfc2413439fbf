package batch

import (
	"testing"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/vector/simd"
)

func TestClampBatchMaxRoundsToPowerOfTwo(t *testing.T) {
	cases := map[int]int{
		1:   8,
		8:   8,
		9:   16,
		100: 128,
		512: 512,
		600: 512,
	}
	for in, want := range cases {
		if got := ClampBatchMax(in); got != want {
			t.Fatalf("ClampBatchMax(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRunBatchProcessesAllVectorsOneAcquirePerChunk(t *testing.T) {
	counters := &Counters{}
	n := 20
	var chunks int
	processed, _, err := RunBatch(n, 8, counters, func(_ simd.Width, start, count int) error {
		chunks++
		return nil
	})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if processed != n {
		t.Fatalf("expected all %d vectors processed, got %d", n, processed)
	}
	// batch_max clamps 8 -> 8, so ceil(20/8) = 3 chunks.
	if chunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", chunks)
	}
	totalOps, acquisitions, vectors, _ := counters.Snapshot()
	if totalOps != 1 {
		t.Fatalf("expected 1 total op, got %d", totalOps)
	}
	if acquisitions != int64(chunks) {
		t.Fatalf("expected one SIMD acquisition per chunk (%d), got %d", chunks, acquisitions)
	}
	if vectors != int64(n) {
		t.Fatalf("expected vectors_processed=%d, got %d", n, vectors)
	}
}

func TestRunBatchReleasesGuardOnError(t *testing.T) {
	counters := &Counters{}
	boom := cmn.NewErr(cmn.ErrInvalidParam, "boom")
	_, _, err := RunBatch(8, 8, counters, func(simd.Width, int, int) error {
		return boom
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	// If the guard weren't released on the error path, this second call
	// would deadlock; a passing test proves release-on-every-exit-path.
	_, _, err = RunBatch(8, 8, counters, func(simd.Width, int, int) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected second RunBatch to succeed after guard release, got %v", err)
	}
}

func TestRunBatchRejectsNonPositiveN(t *testing.T) {
	counters := &Counters{}
	_, _, err := RunBatch(0, 8, counters, func(simd.Width, int, int) error { return nil })
	if cmn.CodeOf(err) != cmn.ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam for N=0, got %v", err)
	}
}
