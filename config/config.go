// Package config collects every subsystem's typed configuration into one
// struct tree loadable from an on-disk TOML file. The core itself has no
// HTTP config API (unlike the teacher's cluster config), so defaults live on
// disk next to the mounted volume and are read once at Open time.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vexfs/vexfs/cmn"
)

// JournalConfig mirrors journal.Config field-for-field so it can be decoded
// directly from TOML without exposing BurntSushi's struct tags on the
// journal package itself.
type JournalConfig struct {
	StartBlock         uint64        `toml:"start_block"`
	RingBlocks         uint64        `toml:"ring_blocks"`
	CommitThreads      int           `toml:"commit_threads"`
	ConcurrentLimit    int           `toml:"concurrent_limit"`
	CheckpointInterval uint64        `toml:"checkpoint_interval"`
	BarrierTimeout     time.Duration `toml:"barrier_timeout"`
}

// Validate rejects a JournalConfig that can never produce a working journal,
// before any block is touched (spec §7: parameter validation first).
func (c JournalConfig) Validate() error {
	if c.RingBlocks < 4 {
		return cmn.NewErr(cmn.ErrInvalidParam, "journal config: ring_blocks=%d too small", c.RingBlocks)
	}
	if c.CommitThreads <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "journal config: commit_threads=%d must be positive", c.CommitThreads)
	}
	if c.ConcurrentLimit <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "journal config: concurrent_limit=%d must be positive", c.ConcurrentLimit)
	}
	if c.CheckpointInterval == 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "journal config: checkpoint_interval must be positive")
	}
	return nil
}

// VectorConfig parameterizes the PQ trainer and batch dispatcher (spec §4.3).
type VectorConfig struct {
	PQSubvectors  int `toml:"pq_subvectors"`
	PQCentroids   int `toml:"pq_centroids"`
	PQIterations  int `toml:"pq_iterations"`
	BatchMax      int `toml:"batch_max"`
	RerankFactor  int `toml:"rerank_factor"` // f in top f*k candidates
}

// Validate enforces the invariants spec §3/§4.3 place on PQ and batch sizing.
func (c VectorConfig) Validate() error {
	if c.PQSubvectors <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "vector config: pq_subvectors must be positive")
	}
	if c.PQCentroids <= 0 || c.PQCentroids > 256 {
		return cmn.NewErr(cmn.ErrInvalidParam, "vector config: pq_centroids=%d must be in (0,256]", c.PQCentroids)
	}
	if c.PQIterations < 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "vector config: pq_iterations must be non-negative")
	}
	if c.BatchMax < 8 || c.BatchMax > 512 || c.BatchMax&(c.BatchMax-1) != 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "vector config: batch_max=%d must be a power of two in [8,512]", c.BatchMax)
	}
	if c.RerankFactor <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "vector config: rerank_factor must be positive")
	}
	return nil
}

// GraphConfig parameterizes the graph index manager's store (IndexDBPath)
// and the orphan resolver's cuckoo filter (CuckooFilterN).
type GraphConfig struct {
	IndexDBPath   string `toml:"index_db_path"` // ":memory:" for an ephemeral index store
	CuckooFilterN uint   `toml:"cuckoo_filter_n"`
}

// Validate rejects a GraphConfig missing a usable index store path.
func (c GraphConfig) Validate() error {
	if c.IndexDBPath == "" {
		return cmn.NewErr(cmn.ErrInvalidParam, "graph config: index_db_path must be set")
	}
	return nil
}

// SemanticConfig parameterizes the event log (spec §4.8).
type SemanticConfig struct {
	StartBlock          uint64 `toml:"start_block"`
	BlockCount           uint64 `toml:"block_count"`
	CacheEntries         int    `toml:"cache_entries"`
	CompressionThreshold int    `toml:"compression_threshold"`
}

// Validate rejects a SemanticConfig with no room for any block.
func (c SemanticConfig) Validate() error {
	if c.BlockCount == 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "semantic config: block_count must be positive")
	}
	return nil
}

// Config is the full on-disk configuration tree for one VexFS mount,
// decoded from a single TOML file (spec §9: "no module-level state" — every
// knob flows in explicitly through this struct rather than a global).
type Config struct {
	Journal  JournalConfig  `toml:"journal"`
	Vector   VectorConfig   `toml:"vector"`
	Graph    GraphConfig    `toml:"graph"`
	Semantic SemanticConfig `toml:"semantic"`
}

// Validate runs every subsystem's Validate in the fixed order spec §7
// prescribes for multi-resource acquisition: journal, then graph, then the
// rest, so the first reported error is always the earliest-acquired
// resource's.
func (c Config) Validate() error {
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if err := c.Graph.Validate(); err != nil {
		return err
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	if err := c.Semantic.Validate(); err != nil {
		return err
	}
	return nil
}

// Default returns the baseline configuration used when no TOML file is
// present, sized for the in-memory BlockIO used by tests and the
// single-process reference build.
func Default() Config {
	return Config{
		Journal: JournalConfig{
			StartBlock:         0,
			RingBlocks:         1024,
			CommitThreads:      4,
			ConcurrentLimit:    64,
			CheckpointInterval: 256,
			BarrierTimeout:     5 * time.Second,
		},
		Vector: VectorConfig{
			PQSubvectors: 8,
			PQCentroids:  256,
			PQIterations: 10,
			BatchMax:     128,
			RerankFactor: 4,
		},
		Graph: GraphConfig{
			IndexDBPath:   ":memory:",
			CuckooFilterN: 1 << 16,
		},
		Semantic: SemanticConfig{
			StartBlock:           1024,
			BlockCount:           4096,
			CacheEntries:         256,
			CompressionThreshold: 256,
		},
	}
}

// Load decodes a TOML file at path into a Config, starting from Default()
// so an on-disk file only needs to override the fields it cares about, and
// validates the result before returning it.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, cmn.WrapErr(cmn.ErrIO, err, "config: decode %q", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, cmn.NewErr(cmn.ErrInvalidParam, "config: unknown keys in %q: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
