package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/pipelab/internal/queue"
)

// RunRequest is the JSON body for POST /runs.
type RunRequest struct {
	Pipeline  string          `json:"pipeline"`
	Trigger   string          `json:"trigger,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

// RunResponse is returned by POST /runs and GET /runs/{id}.
type RunResponse struct {
	RunID       string       `json:"run_id"`
	Pipeline    string       `json:"pipeline"`
	Trigger     string       `json:"trigger"`
	Status      queue.Status `json:"status"`
	SubmittedBy string       `json:"submitted_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       *string      `json:"error,omitempty"`
}

func runResponse(j *queue.Job) RunResponse {
	return RunResponse{
		RunID:       j.ID,
		Pipeline:    j.Pipeline,
		Trigger:     j.Trigger,
		Status:      j.Status,
		SubmittedBy: j.SubmittedBy,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.LastError,
	}
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	NodesLoaded   int    `json:"nodes_loaded"`
	CurrentRun    string `json:"current_run,omitempty"`
}
