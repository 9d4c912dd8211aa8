// Package platform is the request/response channel runners use to reach the
// host: dialogs, prompts and other operations the engine does not own.
package platform

import (
	"context"
	"fmt"
)

// Well-known channels.
const (
	ChannelAlert  = "dialog:alert"
	ChannelPrompt = "dialog:prompt"
)

// ResponseType discriminates a Response.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseError   ResponseType = "error"
)

// Response is the result of one Execute call.
type Response struct {
	Type   ResponseType `json:"type"`
	Result any          `json:"result,omitempty"`
	Error  string       `json:"ipcError,omitempty"`
}

// Err converts an error response into a Go error.
func (r Response) Err() error {
	if r.Type == ResponseError {
		return fmt.Errorf("platform: %s", r.Error)
	}
	return nil
}

// Success wraps result in a success response.
func Success(result any) Response {
	return Response{Type: ResponseSuccess, Result: result}
}

// Failure wraps err in an error response.
func Failure(err error) Response {
	return Response{Type: ResponseError, Error: err.Error()}
}

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks github.com/mattjoyce/pipelab/internal/platform Services

// Services executes a named request on the host. Implementations must honour
// ctx cancellation for requests that wait on a user.
type Services interface {
	Execute(ctx context.Context, channel string, payload map[string]any) Response
}
