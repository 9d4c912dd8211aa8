package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/pipelab/internal/events"
	"github.com/mattjoyce/pipelab/internal/history"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/queue"
)

const defaultHistoryLimit = 50

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.deps.Queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
	}
	if s.deps.Nodes != nil {
		resp.NodesLoaded = len(s.deps.Nodes.Nodes())
	}
	if s.deps.Dispatcher != nil {
		resp.CurrentRun = s.deps.Dispatcher.Current()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleNodes handles GET /nodes.
func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"nodes": s.deps.Nodes.Nodes()})
}

// handlePipelines handles GET /pipelines.
func (s *Server) handlePipelines(w http.ResponseWriter, _ *http.Request) {
	names, err := s.deps.Pipelines.Names()
	if err != nil {
		s.logger.Error("failed to list pipelines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list pipelines")
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"pipelines": names})
}

// handleSubmitRun handles POST /runs. With ?wait=true it blocks until the
// run finishes or MaxWait passes.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Pipeline = strings.TrimSpace(req.Pipeline)
	if req.Pipeline == "" {
		s.writeError(w, http.StatusBadRequest, "pipeline is required")
		return
	}
	if _, err := s.deps.Pipelines.Path(req.Pipeline); err != nil {
		if errors.Is(err, pipeline.ErrPipelineNotFound) {
			s.writeError(w, http.StatusNotFound, "pipeline not found")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Trigger != "" && !strings.Contains(req.Trigger, ":") {
		s.writeError(w, http.StatusBadRequest, "trigger must be plugin:node")
		return
	}

	id, err := s.deps.Queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Pipeline:    req.Pipeline,
		Trigger:     req.Trigger,
		Payload:     req.Payload,
		Variables:   req.Variables,
		SubmittedBy: "api",
	})
	if err != nil {
		s.logger.Error("failed to enqueue run", "pipeline", req.Pipeline, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue run")
		return
	}
	s.deps.Events.Publish(events.RunQueued, id, map[string]string{"pipeline": req.Pipeline})
	s.logger.Info("run enqueued", "run_id", id, "pipeline", req.Pipeline)
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Notify()
	}

	status := http.StatusAccepted
	if r.URL.Query().Get("wait") == "true" && s.deps.Dispatcher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxWait)
		_, err := s.deps.Dispatcher.Wait(ctx, id)
		cancel()
		if err == nil {
			status = http.StatusOK
		}
	}

	job, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read run")
		return
	}
	respondJSON(w, status, runResponse(job))
}

// handleGetRun handles GET /runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to retrieve run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}
	respondJSON(w, http.StatusOK, runResponse(job))
}

// handleCancelRun handles POST /runs/{id}/cancel for the executing run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Dispatcher == nil || !s.deps.Dispatcher.Cancel(id) {
		s.writeError(w, http.StatusConflict, "run is not executing")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// handleListHistory handles GET /history?pipeline=&limit=.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		entries []history.Entry
		err     error
	)
	if name := r.URL.Query().Get("pipeline"); name != "" {
		entries, err = s.deps.History.ListByPipeline(r.Context(), name, limit)
	} else {
		entries, err = s.deps.History.List(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleGetHistory handles GET /history/{id}.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.deps.History.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "history entry not found")
			return
		}
		s.logger.Error("failed to read history", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleDeleteHistory handles DELETE /history/{id}.
func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.History.Delete(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "history entry not found")
			return
		}
		s.logger.Error("failed to delete history", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
