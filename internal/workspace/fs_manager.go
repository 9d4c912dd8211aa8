package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/pipelab/internal/log"
)

const (
	runsDirName  = "runs"
	cacheDirName = "cache"
	stepsDirName = "steps"
)

// Options configure a filesystem workspace manager.
type Options struct {
	// ClearOnEnd removes a run's workspace when the run is torn down.
	ClearOnEnd bool
}

// fsWorkspaceManager manages per-run workspace directories on local disk:
//
//	<base>/runs/<run-id>/steps/<uid>
//	<base>/cache
type fsWorkspaceManager struct {
	baseDir string
	opts    Options
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string, opts Options) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		opts:    opts,
		now:     time.Now,
	}, nil
}

// Create initializes a workspace directory for runID.
func (m *fsWorkspaceManager) Create(ctx context.Context, runID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := m.workspacePath(runID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	cache := filepath.Join(m.baseDir, cacheDirName)
	if err := os.MkdirAll(cache, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace for run %q: %w", runID, err)
	}

	return &Workspace{RunID: runID, Dir: path, Cache: cache, clear: m.opts.ClearOnEnd}, nil
}

// Open returns an existing workspace directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, runID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := m.workspacePath(runID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open workspace for run %q: %w", runID, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path for run %q is not a directory", runID)
	}

	return &Workspace{RunID: runID, Dir: path, Cache: filepath.Join(m.baseDir, cacheDirName), clear: m.opts.ClearOnEnd}, nil
}

// Cleanup removes run workspaces older than olderThan based on directory
// modification time. A zero olderThan removes every run workspace.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan < 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must not be negative")
	}

	runsDir := filepath.Join(m.baseDir, runsDirName)
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if olderThan > 0 && info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(runsDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

// Usage walks the runs directory.
func (m *fsWorkspaceManager) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	runsDir := filepath.Join(m.baseDir, runsDirName)
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("read workspace base directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			u.Runs++
		}
	}
	err = filepath.WalkDir(runsDir, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			u.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return u, fmt.Errorf("measure workspaces: %w", err)
	}
	return u, nil
}

func (m *fsWorkspaceManager) workspacePath(runID string) (string, error) {
	if err := validateName(runID); err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	return filepath.Join(m.baseDir, runsDirName, runID), nil
}

// StepDir returns (creating it if needed) the working directory for step uid.
func (w *Workspace) StepDir(uid string) (string, error) {
	if err := validateName(uid); err != nil {
		return "", fmt.Errorf("step uid: %w", err)
	}
	dir := filepath.Join(w.Dir, stepsDirName, uid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create step directory %q: %w", uid, err)
	}
	return dir, nil
}

// Teardown ends the run's use of the workspace. The directory is removed only
// when the manager was configured to clear temporary folders.
func (w *Workspace) Teardown() error {
	if !w.clear {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workspace %q: %w", w.RunID, err)
	}
	log.WithRun(w.RunID).Debug("workspace removed", "dir", w.Dir)
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("name is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("name %q is invalid", name)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("name %q is invalid", name)
	}
	return nil
}
