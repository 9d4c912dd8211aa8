package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

const killGrace = 5 * time.Second

var runNode = plugin.NodeDefinition{
	ID:          "fs:run",
	Type:        plugin.KindAction,
	Name:        "Invoke file",
	Description: "Invoke an arbitrary executable",
	Params: map[string]plugin.ParamDefinition{
		"command": {Label: "Command", Value: "", Description: "The command to run"},
		"parameters": {
			Label:       "Arguments",
			Description: "The command's parameters",
			Value:       []any{},
			Control:     plugin.Control{Type: "array", Options: map[string]any{"kind": "text"}},
			Required:    plugin.Optional(),
		},
		"workingDirectory": {
			Label:       "Working directory",
			Description: "Defaults to the step directory",
			Value:       "",
			Control:     plugin.Control{Type: "path"},
			Required:    plugin.Optional(),
		},
		"stopOnError": boolParam("Stop on error", false),
	},
	Outputs: map[string]plugin.OutputDefinition{
		"stdout":   {Label: "Standard output", Value: ""},
		"stderr":   {Label: "Error output", Value: ""},
		"exitCode": {Label: "Exit code", Value: 0},
		"duration": {Label: "Duration", Value: 0},
	},
}

// runCommand executes command and records its output. A non-zero exit only
// fails the step when stopOnError is set.
func runCommand(ctx context.Context, rc *plugin.RunContext) error {
	command := strings.TrimSpace(rc.String("command"))
	if command == "" {
		return errors.New("command is required")
	}
	args := rc.Strings("parameters")
	dir := rc.Cwd
	if rc.String("workingDirectory") != "" {
		var err error
		if dir, err = resolvePath(rc, "workingDirectory"); err != nil {
			return err
		}
	}
	stopOnError := rc.Bool("stopOnError", false)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	outLog := &lineLogger{buf: &stdout, log: func(s string) { rc.Log(s) }}
	errLog := &lineLogger{buf: &stderr, log: func(s string) { rc.LogAt(plugin.LevelWarn, s) }}
	cmd.Stdout, cmd.Stderr = outLog, errLog

	rc.Logf("running %s %s in %s", command, strings.Join(args, " "), dir)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	outLog.flush()
	errLog.flush()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	rc.SetOutput("stdout", stdout.String())
	rc.SetOutput("stderr", stderr.String())
	rc.SetOutput("exitCode", exitCode)
	rc.SetOutput("duration", elapsed.Milliseconds())

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		if stopOnError {
			return fmt.Errorf("command %s failed with exit code %d: %w", command, exitCode, err)
		}
		rc.LogAt(plugin.LevelWarn, fmt.Sprintf("command exited with code %d", exitCode))
	}
	return nil
}

// lineLogger tees process output into buf and reports each complete line.
type lineLogger struct {
	buf     *bytes.Buffer
	partial []byte
	log     func(string)
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.log(string(bytes.TrimRight(l.partial[:i], "\r")))
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	if len(l.partial) > 0 {
		l.log(string(l.partial))
		l.partial = nil
	}
}
