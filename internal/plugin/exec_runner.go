package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/protocol"
)

const (
	defaultExecTimeout     = 5 * time.Minute
	terminationGracePeriod = 5 * time.Second
	maxStderrBytes         = 64 * 1024
)

// ExecOptions tune how an external plugin is spawned.
type ExecOptions struct {
	Timeout time.Duration
	Config  map[string]any
}

// ExecRunner runs one node of an external plugin as a subprocess speaking the
// step protocol. It satisfies every runner contract; the node's declared kind
// decides which one the executor calls.
type ExecRunner struct {
	plugin  *Plugin
	node    NodeDefinition
	timeout time.Duration
	config  map[string]any
}

// NewExecRunner returns a runner for node n of plugin p.
func NewExecRunner(p *Plugin, n NodeDefinition, opts ExecOptions) *ExecRunner {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecRunner{plugin: p, node: n, timeout: timeout, config: opts.Config}
}

func (r *ExecRunner) RunAction(ctx context.Context, rc *RunContext) error {
	_, err := r.call(ctx, rc)
	return err
}

func (r *ExecRunner) HandleEvent(ctx context.Context, rc *RunContext) error {
	_, err := r.call(ctx, rc)
	return err
}

func (r *ExecRunner) EvaluateCondition(ctx context.Context, rc *RunContext) (bool, error) {
	resp, err := r.call(ctx, rc)
	if err != nil {
		return false, err
	}
	b, ok := resp.Result.(bool)
	if !ok {
		return false, fmt.Errorf("condition result must be a boolean, got %T", resp.Result)
	}
	return b, nil
}

func (r *ExecRunner) NextIteration(ctx context.Context, rc *RunContext) (LoopDecision, Meta, error) {
	resp, err := r.call(ctx, rc)
	if err != nil {
		return LoopExit, rc.Meta, err
	}
	d, _ := resp.Result.(string)
	switch LoopDecision(d) {
	case LoopStep, LoopExit:
	default:
		return LoopExit, rc.Meta, fmt.Errorf("loop result must be %q or %q, got %v", LoopStep, LoopExit, resp.Result)
	}
	return LoopDecision(d), Meta(resp.Meta), nil
}

func (r *ExecRunner) EvaluateExpression(ctx context.Context, rc *RunContext) (string, error) {
	resp, err := r.call(ctx, rc)
	if err != nil {
		return "", err
	}
	s, ok := resp.Result.(string)
	if !ok {
		return "", fmt.Errorf("expression result must be a string, got %T", resp.Result)
	}
	return s, nil
}

// call spawns the plugin once and replays its logs and outputs into rc.
func (r *ExecRunner) call(ctx context.Context, rc *RunContext) (*protocol.Response, error) {
	logger := log.WithPlugin(r.plugin.ID).With("node", r.node.ID, "run_id", rc.RunID, "step_uid", rc.StepUID)

	config := rc.Config
	if config == nil {
		config = r.config
	}
	req := &protocol.Request{
		Protocol:   protocol.Version,
		RunID:      rc.RunID,
		StepUID:    rc.StepUID,
		Node:       r.node.ID,
		Kind:       string(r.node.Type),
		Inputs:     rc.Inputs,
		Meta:       rc.Meta,
		Config:     config,
		Cwd:        rc.Cwd,
		Paths:      protocol.Paths(rc.Paths),
		DeadlineAt: time.Now().Add(r.timeout),
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}

	resp, stderr, err := spawn(ctx, r.plugin.Entrypoint, rc.Cwd, req, r.timeout, logger)
	if stderr != "" {
		rc.LogAt(LevelDebug, "stderr: "+stderr)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("plugin %s timed out after %v", r.plugin.ID, r.timeout)
		}
		return nil, err
	}

	for _, entry := range resp.Logs {
		level := LogLevel(entry.Level)
		if level == "" {
			level = LevelInfo
		}
		rc.LogAt(level, entry.Message)
	}
	if !resp.OK() {
		return nil, errors.New(resp.Error)
	}
	for k, v := range resp.Outputs {
		rc.SetOutput(k, v)
	}
	return resp, nil
}

// spawn runs entrypoint, writes req to stdin and decodes the response from
// stdout. On timeout or ctx cancellation the process gets SIGTERM, then
// SIGKILL after a grace period.
func spawn(
	ctx context.Context,
	entrypoint string,
	dir string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination is managed below.
	cmd := exec.Command(entrypoint)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", entrypoint, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	terminate := func(reason error) (*protocol.Response, string, error) {
		logger.Warn("terminating plugin, sending SIGTERM", "reason", reason)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("plugin exited after SIGTERM")
		case <-grace.C:
			logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
		return nil, truncateStderr(stderr.String()), reason
	}

	select {
	case <-ctx.Done():
		return terminate(ctx.Err())

	case <-timeoutTimer.C:
		return terminate(context.DeadlineExceeded)

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

func truncateStderr(s string) string {
	if len(s) <= maxStderrBytes {
		return s
	}
	return s[:maxStderrBytes] + "...(truncated)"
}
