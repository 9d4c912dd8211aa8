package protocol

import "time"

// Version is the only step protocol version spoken by pipelab.
const Version = 1

// Paths mirrors the well-known directories handed to a runner.
type Paths struct {
	Assets string `json:"assets,omitempty"`
	Unpack string `json:"unpack,omitempty"`
	Cache  string `json:"cache,omitempty"`
	Run    string `json:"run,omitempty"`
}

// Request is the envelope written to an external plugin's stdin for one step.
type Request struct {
	Protocol   int            `json:"protocol"`
	RunID      string         `json:"run_id"`
	StepUID    string         `json:"step_uid"`
	Node       string         `json:"node"` // nodeId within the plugin
	Kind       string         `json:"kind"` // action | condition | loop | expression | event
	Inputs     map[string]any `json:"inputs"`
	Meta       map[string]any `json:"meta,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Cwd        string         `json:"cwd"`
	Paths      Paths          `json:"paths"`
	DeadlineAt time.Time      `json:"deadline_at,omitempty"`
}

// Response is the envelope read back from an external plugin's stdout.
//
// Result carries the kind-specific return value: a boolean for conditions,
// "step" or "exit" for loops and a string for expressions. Actions and events
// leave it empty.
type Response struct {
	Status  string         `json:"status"` // ok | error
	Error   string         `json:"error,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Result  any            `json:"result,omitempty"`
	Logs    []LogEntry     `json:"logs,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// OK reports whether the plugin finished the step successfully.
func (r *Response) OK() bool {
	return r.Status == "ok"
}
