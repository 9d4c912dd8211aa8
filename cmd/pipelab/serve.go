package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/pipelab/internal/api"
	"github.com/mattjoyce/pipelab/internal/dispatch"
	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/events"
	"github.com/mattjoyce/pipelab/internal/history"
	"github.com/mattjoyce/pipelab/internal/lock"
	"github.com/mattjoyce/pipelab/internal/queue"
	"github.com/mattjoyce/pipelab/internal/tui/watch"
	"github.com/mattjoyce/pipelab/internal/webhook"
)

func runServe(args []string) int {
	fs, configPath := newFlagSet("serve")
	listen := fs.String("listen", "", "Override api.listen and enable the API")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	a, err := loadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	if *listen != "" {
		a.cfg.API.Enabled = true
		a.cfg.API.Listen = *listen
	}
	logger := a.logger
	logger.Info("pipelab starting", "version", version, "config", a.cfg.Path())

	lockPath := lock.PathFor(a.cfg.State.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return exitFailed
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := a.openDB(ctx)
	if err != nil {
		logger.Error("failed to open database", "path", a.cfg.State.Path, "error", err)
		return exitFailed
	}
	defer func() { _ = db.Close() }()

	q := queue.New(db)
	if n, err := q.RecoverOrphans(ctx); err != nil {
		logger.Error("failed to recover orphaned runs", "error", err)
		return exitFailed
	} else if n > 0 {
		logger.Warn("re-queued runs left running by a previous process", "count", n)
	}

	hist := history.NewStore(db)
	hub := events.NewHub(0)
	ex, err := a.executor(executorOptions{observers: []engine.Observer{events.NewRunPublisher(hub)}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	lib := a.library()
	disp := dispatch.New(q, lib, ex, dispatch.WithHistory(hist))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled("dispatcher", disp.Start(gctx))
	})

	if a.cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen: a.cfg.API.Listen,
			APIKey: a.cfg.API.Auth.APIKey,
		}, api.Deps{
			Queue:      q,
			Dispatcher: disp,
			History:    hist,
			Pipelines:  lib,
			Nodes:      a.registry,
			Events:     hub,
		})
		g.Go(func() error {
			return ignoreCanceled("api", srv.Start(gctx))
		})
		logger.Info("API server enabled", "listen", a.cfg.API.Listen)
	}

	if a.cfg.Webhooks != nil && len(a.cfg.Webhooks.Endpoints) > 0 {
		whCfg, err := webhook.FromConfig(a.cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return exitFailed
		}
		wh := webhook.New(whCfg, q, webhook.WithNotify(disp.Notify))
		g.Go(func() error {
			return ignoreCanceled("webhook", wh.Start(gctx))
		})
		logger.Info("webhook server enabled", "listen", whCfg.Listen, "endpoints", len(whCfg.Endpoints))
	}

	logger.Info("pipelab running (press Ctrl+C to stop)")
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return exitFailed
	}
	logger.Info("pipelab stopped")
	return exitOK
}

func ignoreCanceled(component string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}

func runWatch(args []string) int {
	fs, _ := newFlagSet("watch")
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Base URL of a running pipelab serve")
	apiKey := fs.String("api-key", os.Getenv("PIPELAB_API_KEY"), "Bearer token (default $PIPELAB_API_KEY)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	return exitOK
}
