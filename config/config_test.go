package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vexfs/vexfs/cmn"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vexfs.toml")
	body := `
[journal]
commit_threads = 2

[graph]
index_db_path = "/tmp/vexfs-index.db"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Journal.CommitThreads != 2 {
		t.Fatalf("expected overridden commit_threads=2, got %d", cfg.Journal.CommitThreads)
	}
	if cfg.Journal.RingBlocks != Default().Journal.RingBlocks {
		t.Fatalf("expected ring_blocks to keep its default, got %d", cfg.Journal.RingBlocks)
	}
	if cfg.Graph.IndexDBPath != "/tmp/vexfs-index.db" {
		t.Fatalf("expected overridden index_db_path, got %q", cfg.Graph.IndexDBPath)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vexfs.toml")
	body := "[journal]\nnot_a_real_field = 1\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); cmn.CodeOf(err) != cmn.ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam for unknown keys, got %v", err)
	}
}

func TestValidateOrderJournalFirst(t *testing.T) {
	cfg := Default()
	cfg.Journal.RingBlocks = 0
	cfg.Graph.IndexDBPath = ""
	err := cfg.Validate()
	if cmn.CodeOf(err) != cmn.ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam, got %v", err)
	}
	if !strings.Contains(err.Error(), "journal config") {
		t.Fatalf("expected the journal section to be reported first, got %v", err)
	}
}

func TestVectorConfigRejectsNonPowerOfTwoBatchMax(t *testing.T) {
	cfg := Default().Vector
	cfg.BatchMax = 100
	if err := cfg.Validate(); cmn.CodeOf(err) != cmn.ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam for non-power-of-two batch_max, got %v", err)
	}
}
