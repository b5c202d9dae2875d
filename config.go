package bptreekv

import "github.com/bptreekv/bptreekv/internal/pager"

// Config configures Open, mirroring pager.PagerConfig (DBPath/WALPath/
// PageSize/MaxCachePages) and adding the two knobs spec.md §6 calls for
// that only matter at tree-creation time: BranchingFactor and Create.
type Config struct {
	// DBPath is the main data file. Required.
	DBPath string
	// WALPath is the write-ahead log sidecar. Defaults to DBPath + ".wal".
	WALPath string
	// PageSize in bytes, a power of two between pager.MinPageSize and
	// pager.MaxPageSize. Defaults to pager.DefaultPageSize. Ignored when
	// opening an existing database (the stored page size governs).
	PageSize int
	// MaxCachePages bounds the in-memory buffer pool. Defaults to 1024.
	MaxCachePages int
	// BranchingFactor B for a newly created database. Defaults to
	// pager.DefaultBranchingFactor. Ignored when opening an existing
	// database — B is fixed at creation time and stored in the superblock.
	BranchingFactor uint32
	// Create allows Open to create DBPath when it does not already exist.
	// When false and DBPath is missing, Open returns an error of
	// KindNotFound.
	Create bool
	// CheckpointSchedule, if non-empty, is a standard 5-field cron
	// expression on which Open starts a background checkpoint (see
	// internal/checkpoint). Leave empty to manage checkpoints manually via
	// Tree.Checkpoint.
	CheckpointSchedule string
}

func (c Config) toPagerConfig() pager.PagerConfig {
	walPath := c.WALPath
	if walPath == "" {
		walPath = c.DBPath + ".wal"
	}
	return pager.PagerConfig{
		DBPath:          c.DBPath,
		WALPath:         walPath,
		PageSize:        c.PageSize,
		MaxCachePages:   c.MaxCachePages,
		BranchingFactor: c.branchingFactor(),
		Create:          c.Create,
	}
}

func (c Config) branchingFactor() uint32 {
	if c.BranchingFactor == 0 {
		return pager.DefaultBranchingFactor
	}
	return c.BranchingFactor
}
