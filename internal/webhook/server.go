package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/queue"
)

// Server is the webhook HTTP server.
type Server struct {
	config Config
	queue  Enqueuer
	notify func()
	logger *slog.Logger
	server *http.Server

	endpoints map[string]*EndpointConfig
}

// Option configures a Server.
type Option func(*Server)

// WithNotify is called after every successful enqueue, typically to wake
// the dispatcher.
func WithNotify(fn func()) Option { return func(s *Server) { s.notify = fn } }

// New creates a webhook server.
func New(cfg Config, q Enqueuer, opts ...Option) *Server {
	endpoints := make(map[string]*EndpointConfig, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	s := &Server{
		config:    cfg,
		queue:     q,
		notify:    func() {},
		logger:    log.WithComponent("webhook"),
		endpoints: endpoints,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler for all endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
	})
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if err := verifySignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature rejected",
			"path", r.URL.Path,
			"header", endpoint.SignatureHeader,
			"present", signature != "",
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	payload, err := buildPayload(body, r.Header, endpoint.SignatureHeader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to encode payload")
		return
	}

	runID, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Pipeline:    endpoint.Pipeline,
		Trigger:     TriggerOrigin,
		Payload:     payload,
		SubmittedBy: "webhook:" + r.URL.Path,
	})
	if err != nil {
		s.logger.Error("failed to enqueue webhook run",
			"path", r.URL.Path,
			"pipeline", endpoint.Pipeline,
			"error", err,
		)
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue run")
		return
	}
	s.notify()

	s.logger.Info("webhook run enqueued",
		"path", r.URL.Path,
		"pipeline", endpoint.Pipeline,
		"run_id", runID,
	)
	s.respondJSON(w, http.StatusAccepted, TriggerResponse{RunID: runID})
}

// buildPayload wraps the request as {"body", "headers"}. JSON bodies are
// embedded as values and anything else as a string. The signature header
// is left out.
func buildPayload(body []byte, header http.Header, signatureHeader string) (json.RawMessage, error) {
	var bodyValue any = string(body)
	if json.Valid(body) {
		bodyValue = json.RawMessage(body)
	}
	headers := make(map[string]string, len(header))
	for k, v := range header {
		if strings.EqualFold(k, signatureHeader) || len(v) == 0 {
			continue
		}
		headers[strings.ToLower(k)] = v[0]
	}
	return json.Marshal(map[string]any{"body": bodyValue, "headers": headers})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
