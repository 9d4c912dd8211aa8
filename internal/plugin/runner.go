package plugin

import (
	"context"
	"fmt"

	"github.com/mattjoyce/pipelab/internal/platform"
)

// Runner is the executable side of a node. It must implement the interface
// matching its definition's kind; Register enforces this.
type Runner any

// ActionRunner performs a unit of work. Results are reported through
// RunContext.SetOutput.
type ActionRunner interface {
	RunAction(ctx context.Context, rc *RunContext) error
}

// ConditionRunner picks a branch.
type ConditionRunner interface {
	EvaluateCondition(ctx context.Context, rc *RunContext) (bool, error)
}

// LoopRunner decides whether to run the loop body again. It receives the
// previous meta in rc.Meta and returns the meta for the next call.
type LoopRunner interface {
	NextIteration(ctx context.Context, rc *RunContext) (LoopDecision, Meta, error)
}

// ExpressionRunner computes a string value.
type ExpressionRunner interface {
	EvaluateExpression(ctx context.Context, rc *RunContext) (string, error)
}

// EventRunner handles the trigger that started a run.
type EventRunner interface {
	HandleEvent(ctx context.Context, rc *RunContext) error
}

// ActionFunc adapts a function to ActionRunner.
type ActionFunc func(ctx context.Context, rc *RunContext) error

func (f ActionFunc) RunAction(ctx context.Context, rc *RunContext) error { return f(ctx, rc) }

// ConditionFunc adapts a function to ConditionRunner.
type ConditionFunc func(ctx context.Context, rc *RunContext) (bool, error)

func (f ConditionFunc) EvaluateCondition(ctx context.Context, rc *RunContext) (bool, error) {
	return f(ctx, rc)
}

// LoopFunc adapts a function to LoopRunner.
type LoopFunc func(ctx context.Context, rc *RunContext) (LoopDecision, Meta, error)

func (f LoopFunc) NextIteration(ctx context.Context, rc *RunContext) (LoopDecision, Meta, error) {
	return f(ctx, rc)
}

// ExpressionFunc adapts a function to ExpressionRunner.
type ExpressionFunc func(ctx context.Context, rc *RunContext) (string, error)

func (f ExpressionFunc) EvaluateExpression(ctx context.Context, rc *RunContext) (string, error) {
	return f(ctx, rc)
}

// EventFunc adapts a function to EventRunner.
type EventFunc func(ctx context.Context, rc *RunContext) error

func (f EventFunc) HandleEvent(ctx context.Context, rc *RunContext) error { return f(ctx, rc) }

// checkRunner verifies r implements the contract for kind.
func checkRunner(kind NodeKind, r Runner) error {
	var ok bool
	switch kind {
	case KindAction:
		_, ok = r.(ActionRunner)
	case KindCondition:
		_, ok = r.(ConditionRunner)
	case KindLoop:
		_, ok = r.(LoopRunner)
	case KindExpression:
		_, ok = r.(ExpressionRunner)
	case KindEvent:
		_, ok = r.(EventRunner)
	default:
		return fmt.Errorf("unknown node kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("runner %T does not implement the %s contract", r, kind)
	}
	return nil
}

// LoopDecision is returned by a LoopRunner.
type LoopDecision string

const (
	LoopStep LoopDecision = "step"
	LoopExit LoopDecision = "exit"
)

// Meta is opaque per-loop state owned by the walker.
type Meta map[string]any

// Clone returns a shallow copy so runners cannot alias walker state.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Paths are the well-known directories available to a runner.
type Paths struct {
	Assets string `json:"assets,omitempty"`
	Unpack string `json:"unpack,omitempty"`
	Cache  string `json:"cache,omitempty"`
	// Run is the root of the current run's workspace.
	Run string `json:"run,omitempty"`
}

// LogLevel grades runner log lines.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// RunContext is everything a runner may see or touch for one invocation.
// Runners never write to the run record directly.
type RunContext struct {
	RunID   string
	StepUID string
	Inputs  map[string]any
	Meta    Meta
	Cwd     string
	Paths   Paths
	API     platform.Services
	// Config is the plugin's section of the service configuration.
	Config map[string]any

	// OnLog and OnOutput are installed by the executor.
	OnLog    func(level LogLevel, msg string)
	OnOutput func(key string, value any)
}

// Log records an info line in the step's logs.
func (rc *RunContext) Log(msg string) {
	rc.LogAt(LevelInfo, msg)
}

// Logf formats and records an info line.
func (rc *RunContext) Logf(format string, args ...any) {
	rc.LogAt(LevelInfo, fmt.Sprintf(format, args...))
}

// LogAt records msg at level.
func (rc *RunContext) LogAt(level LogLevel, msg string) {
	if rc.OnLog != nil {
		rc.OnLog(level, msg)
	}
}

// SetOutput publishes an output value for this step.
func (rc *RunContext) SetOutput(key string, value any) {
	if rc.OnOutput != nil {
		rc.OnOutput(key, value)
	}
}
