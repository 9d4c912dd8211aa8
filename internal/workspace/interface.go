package workspace

import (
	"context"
	"time"
)

// Workspace is the scratch directory tree of one pipeline run. Each step gets
// its own working directory beneath it.
type Workspace struct {
	RunID string
	Dir   string
	// Cache is shared across runs and survives teardown.
	Cache string

	clear bool
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Usage summarizes what the cache folder holds.
type Usage struct {
	Runs  int
	Bytes int64
}

// Manager governs run workspace lifecycle.
type Manager interface {
	// Create initializes a new workspace for runID.
	Create(ctx context.Context, runID string) (*Workspace, error)

	// Open resolves an existing workspace for runID.
	Open(ctx context.Context, runID string) (*Workspace, error)

	// Cleanup removes run workspaces older than olderThan. Zero removes all.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)

	// Usage reports the number of run workspaces and total bytes on disk.
	Usage(ctx context.Context) (Usage, error)
}
