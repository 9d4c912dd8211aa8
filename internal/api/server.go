// Package api serves the pipelab HTTP API: run submission, run status,
// build history, node listings and a server-sent event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pipelab/internal/events"
	"github.com/mattjoyce/pipelab/internal/history"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/plugin"
	"github.com/mattjoyce/pipelab/internal/queue"
)

// RunQueue is the part of queue.Queue the API uses.
type RunQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	Depth(ctx context.Context) (int, error)
}

// Dispatcher is the part of dispatch.Dispatcher the API uses.
type Dispatcher interface {
	Notify()
	Wait(ctx context.Context, id string) (queue.Status, error)
	Cancel(id string) bool
	Current() string
}

// HistoryStore is the part of history.Store the API uses.
type HistoryStore interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
	ListByPipeline(ctx context.Context, name string, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (history.Entry, error)
	Delete(ctx context.Context, id string) error
}

// Pipelines resolves named pipelines. pipeline.Library implements it.
type Pipelines interface {
	Names() ([]string, error)
	Path(name string) (string, error)
}

// NodeLister lists registered nodes. plugin.Registry implements it.
type NodeLister interface {
	Nodes() []plugin.NodeInfo
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token every protected route requires. Empty
	// turns authentication off.
	APIKey string
	// MaxWait caps how long POST /runs?wait=true blocks.
	MaxWait time.Duration
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Queue      RunQueue
	Dispatcher Dispatcher
	History    HistoryStore
	Pipelines  Pipelines
	Nodes      NodeLister
	Events     *events.Hub
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server.
func New(cfg Config, deps Deps) *Server {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(0)
	}
	return &Server{
		config:    cfg,
		deps:      deps,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Event streams and waiting submissions hold the response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if s.config.APIKey == "" {
		s.logger.Warn("API authentication is disabled; set api.auth.api_key")
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/nodes", s.handleNodes)
		r.Get("/pipelines", s.handlePipelines)
		r.Post("/runs", s.handleSubmitRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
		r.Get("/history", s.handleListHistory)
		r.Get("/history/{id}", s.handleGetHistory)
		r.Delete("/history/{id}", s.handleDeleteHistory)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
