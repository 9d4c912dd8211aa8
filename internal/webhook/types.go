package webhook

import (
	"context"

	"github.com/mattjoyce/pipelab/internal/queue"
)

// Enqueuer accepts runs. queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path, e.g. "/hooks/deploy".
	Path string
	// Pipeline is the library name of the pipeline to run.
	Pipeline string
	// Secret is the HMAC key shared with the sender.
	Secret string
	// SignatureHeader carries the signature, e.g. "X-Hub-Signature-256".
	SignatureHeader string
	// MaxBodySize is the largest accepted body in bytes.
	MaxBodySize int64
}

// TriggerResponse is the JSON response for accepted requests.
type TriggerResponse struct {
	RunID string `json:"run_id"`
}

// ErrorResponse is the JSON response for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Hub-Signature-256"
	// TriggerOrigin is the trigger every webhook run starts from.
	TriggerOrigin = "system:webhook"
)
