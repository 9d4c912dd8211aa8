package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/pipelab/internal/config"
	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/nodes/filesystem"
	"github.com/mattjoyce/pipelab/internal/nodes/system"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/platform"
	"github.com/mattjoyce/pipelab/internal/plugin"
	"github.com/mattjoyce/pipelab/internal/storage"
	"github.com/mattjoyce/pipelab/internal/workspace"
)

// app is the wiring shared by every command: settings, the node registry
// and the run workspace manager.
type app struct {
	cfg        *config.Config
	registry   *plugin.Registry
	workspaces workspace.Manager
	logger     *slog.Logger
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.NewFSManager(cfg.CacheFolder, workspace.Options{ClearOnEnd: cfg.ClearTemporaryFolders})
	if err != nil {
		return nil, fmt.Errorf("workspace manager: %w", err)
	}
	return &app{cfg: cfg, registry: registry, workspaces: ws, logger: logger}, nil
}

// buildRegistry registers the built-in plugins and every enabled external
// plugin found under plugins_dir.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := reg.Register(system.Definition()); err != nil {
		return nil, err
	}
	if cfg.Plugins[filesystem.PluginID].IsEnabled() {
		if err := reg.Register(filesystem.Definition()); err != nil {
			return nil, err
		}
	}

	logFn := func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	}
	if info, err := os.Stat(cfg.PluginsDir); err != nil || !info.IsDir() {
		logger.Debug("no external plugins", "plugins_dir", cfg.PluginsDir)
		return reg, nil
	}
	catalog, err := plugin.Discover(cfg.PluginsDir, logFn)
	if err != nil {
		return nil, fmt.Errorf("plugin discovery: %w", err)
	}
	enabled := plugin.NewCatalog()
	for _, p := range catalog.All() {
		if !cfg.Plugins[p.ID].IsEnabled() {
			logger.Info("plugin disabled by config", "plugin", p.ID)
			continue
		}
		if err := enabled.Add(p); err != nil {
			logger.Warn("skipping plugin", "plugin", p.ID, "error", err)
		}
	}
	n := enabled.RegisterAll(reg, func(p *plugin.Plugin) plugin.ExecOptions {
		pc := cfg.Plugins[p.ID]
		return plugin.ExecOptions{Timeout: pc.Timeout, Config: pc.Config}
	}, logFn)
	logger.Debug("plugin discovery complete", "external", n, "nodes", len(reg.Nodes()))
	return reg, nil
}

type executorOptions struct {
	policy      string
	interactive bool
	observers   []engine.Observer
}

func (a *app) executor(o executorOptions) (*engine.Executor, error) {
	policyName := a.cfg.Execution.Policy
	if o.policy != "" {
		policyName = o.policy
	}
	policy, err := engine.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}

	var services platform.Services = platform.NewHeadless()
	if o.interactive {
		services = platform.NewConsole(os.Stdin, os.Stderr)
	}

	opts := []engine.Option{
		engine.WithPolicy(policy),
		engine.WithPlatform(services),
		engine.WithWorkspaces(a.workspaces),
		engine.WithStepTimeout(a.cfg.Execution.StepTimeout),
		engine.WithPluginConfig(a.cfg.PluginConfig),
		engine.WithPaths(plugin.Paths{
			Assets: a.cfg.PluginsDir,
			Cache:  filepath.Join(a.cfg.CacheFolder, "cache"),
		}),
	}
	for _, obs := range o.observers {
		opts = append(opts, engine.WithObserver(obs))
	}
	return engine.New(a.registry, opts...), nil
}

func (a *app) library() pipeline.Library {
	return pipeline.Library{Dir: a.cfg.PipelinesDir}
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.State.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := storage.OpenSQLite(ctx, a.cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", a.cfg.State.Path, err)
	}
	return db, nil
}

// workspaceDir returns the kept workspace of runID, or "".
func (a *app) workspaceDir(ctx context.Context, runID string) string {
	ws, err := a.workspaces.Open(ctx, runID)
	if err != nil {
		return ""
	}
	return ws.Dir
}

// loadDocument resolves a run target: an existing file, "preset:<name>",
// or a pipeline name in pipelines_dir.
func (a *app) loadDocument(target string) (*pipeline.Document, string, error) {
	if name, ok := strings.CutPrefix(target, "preset:"); ok {
		doc, err := pipeline.Preset(name)
		return doc, "", err
	}
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		doc, err := pipeline.LoadFile(target)
		if err != nil {
			return nil, "", err
		}
		abs, _ := filepath.Abs(target)
		return doc, abs, nil
	}
	return a.library().Load(target)
}
