// Package engine walks a pipeline document depth-first and dispatches each
// block to its registered runner, producing a RunRecord.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/platform"
	"github.com/mattjoyce/pipelab/internal/plugin"
	"github.com/mattjoyce/pipelab/internal/workspace"
)

// Policy decides what a step failure does to the rest of the run.
type Policy string

const (
	// FailFast stops the whole run at the first failed step.
	FailFast Policy = "fail-fast"
	// BestEffort abandons only the failed block and continues with its
	// siblings.
	BestEffort Policy = "best-effort"
)

// ParsePolicy validates a policy name. Empty means FailFast.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(s)) {
	case "", FailFast:
		return FailFast, nil
	case BestEffort:
		return BestEffort, nil
	}
	return "", fmt.Errorf("unknown execution policy %q (valid: %s, %s)", s, FailFast, BestEffort)
}

// Request describes one run.
type Request struct {
	// RunID is generated when empty.
	RunID string
	// Trigger is the start origin; zero means system:manual.
	Trigger pipeline.Origin
	// Payload is handed to the trigger's event runner.
	Payload map[string]any
	// Variables override document variable values by id.
	Variables map[string]any
}

// Executor runs pipeline documents. It is safe for concurrent use, though
// each run is strictly sequential.
type Executor struct {
	reg          *plugin.Registry
	policy       Policy
	api          platform.Services
	workspaces   workspace.Manager
	observers    observers
	stepTimeout  time.Duration
	paths        plugin.Paths
	pluginConfig func(pluginID string) map[string]any
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy sets the failure policy.
func WithPolicy(p Policy) Option { return func(e *Executor) { e.policy = p } }

// WithPlatform sets the services handed to runners as RunContext.API.
func WithPlatform(s platform.Services) Option { return func(e *Executor) { e.api = s } }

// WithWorkspaces sets where run and step directories are created.
func WithWorkspaces(m workspace.Manager) Option { return func(e *Executor) { e.workspaces = m } }

// WithObserver adds a progress observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// WithStepTimeout bounds every runner invocation. Zero means no bound.
func WithStepTimeout(d time.Duration) Option { return func(e *Executor) { e.stepTimeout = d } }

// WithPaths sets the well-known directories passed to runners.
func WithPaths(p plugin.Paths) Option { return func(e *Executor) { e.paths = p } }

// WithPluginConfig supplies per-plugin configuration for RunContext.Config.
func WithPluginConfig(fn func(pluginID string) map[string]any) Option {
	return func(e *Executor) { e.pluginConfig = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// New creates an executor dispatching through reg.
func New(reg *plugin.Registry, opts ...Option) *Executor {
	e := &Executor{
		reg:    reg,
		policy: FailFast,
		api:    platform.NewHeadless(),
		now:    time.Now,
		logger: log.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the node registry the executor dispatches through.
func (e *Executor) Registry() *plugin.Registry { return e.reg }

// Run executes doc and returns its record. It never returns nil and never
// panics: every failure, including runner panics, is reported in the record.
func (e *Executor) Run(ctx context.Context, doc *pipeline.Document, req Request) (rec *RunRecord) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	name := ""
	if doc != nil {
		name = doc.Name
	}
	rec = newRecord(runID, name)
	logger := e.logger.With("run_id", runID, "pipeline", name)

	rec.start(e.now())
	e.observers.runStart(rec)
	logger.Info("run started")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("executor panic", "panic", r)
			rec.finish(RunFailed, fmt.Errorf("internal error: %v", r), e.now())
		}
		logger.Info("run finished", "status", rec.Status, "duration", rec.Duration())
		e.observers.runFinish(rec)
	}()

	if doc == nil {
		rec.finish(RunFailed, errors.New("no pipeline document"), e.now())
		return rec
	}
	doc = doc.Clone()

	trigger, err := SelectTrigger(doc, req.Trigger)
	if err != nil {
		rec.finish(RunFailed, err, e.now())
		return rec
	}

	ws, err := e.openWorkspace(ctx, runID)
	if err != nil {
		rec.finish(RunFailed, fmt.Errorf("create workspace: %w", err), e.now())
		return rec
	}
	defer func() {
		if err := ws.Teardown(); err != nil {
			logger.Warn("workspace teardown failed", "error", err)
		}
	}()

	vars := doc.VariableValues()
	for k, v := range req.Variables {
		vars[k] = v
	}

	r := &run{
		exec:   e,
		rec:    rec,
		ws:     ws,
		vars:   vars,
		logger: logger,
	}

	if trigger != nil {
		err = r.trigger(ctx, trigger, req.Payload)
	}
	if err == nil {
		err = r.walk(ctx, doc.Canvas.Blocks)
	}

	switch {
	case errors.Is(err, ErrCancelled):
		rec.finish(RunCancelled, ErrCancelled, e.now())
	case err != nil:
		rec.finish(RunFailed, err, e.now())
	case r.failures > 0:
		rec.finish(RunFailed, fmt.Errorf("%d step(s) failed", r.failures), e.now())
	default:
		rec.finish(RunCompleted, nil, e.now())
	}
	return rec
}

func (e *Executor) openWorkspace(ctx context.Context, runID string) (*workspace.Workspace, error) {
	if e.workspaces != nil {
		return e.workspaces.Create(ctx, runID)
	}
	m, err := workspace.NewFSManager(filepath.Join(os.TempDir(), "pipelab"), workspace.Options{ClearOnEnd: true})
	if err != nil {
		return nil, err
	}
	return m.Create(ctx, runID)
}
