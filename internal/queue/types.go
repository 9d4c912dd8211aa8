package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a queued run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is one requested pipeline run. Its ID doubles as the run id.
type Job struct {
	ID          string          `json:"id"`
	Pipeline    string          `json:"pipeline"`
	Trigger     string          `json:"trigger"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Variables   json.RawMessage `json:"variables,omitempty"`
	Status      Status          `json:"status"`
	SubmittedBy string          `json:"submitted_by"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
}

// EnqueueRequest asks for a run of a named pipeline. Trigger is a
// "plugin:node" origin; empty means the manual start.
type EnqueueRequest struct {
	Pipeline    string
	Trigger     string
	Payload     json.RawMessage
	Variables   json.RawMessage
	SubmittedBy string
}

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")
