package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptPlugin(t *testing.T, script string, nodes ...NodeDefinition) *Plugin {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0o755))
	return &Plugin{ID: "ext", Name: "ext", Path: dir, Entrypoint: exe, Protocol: 1, Nodes: nodes}
}

func collectingContext(t *testing.T) (*RunContext, map[string]any, *[]string) {
	outputs := map[string]any{}
	var logs []string
	rc := &RunContext{
		RunID:    "run-1",
		StepUID:  "step-1",
		Inputs:   map[string]any{"message": "hi"},
		Cwd:      t.TempDir(),
		OnLog:    func(_ LogLevel, msg string) { logs = append(logs, msg) },
		OnOutput: func(k string, v any) { outputs[k] = v },
	}
	return rc, outputs, &logs
}

func TestExecRunnerAction(t *testing.T) {
	// Echo the request's step uid back as an output.
	p := scriptPlugin(t, `read req
uid=$(echo "$req" | sed 's/.*"step_uid":"\([^"]*\)".*/\1/')
echo "{\"status\":\"ok\",\"outputs\":{\"echoed\":\"$uid\"},\"logs\":[{\"level\":\"info\",\"message\":\"done\"}]}"
`)
	node := NodeDefinition{ID: "echo", Type: KindAction}
	r := NewExecRunner(p, node, ExecOptions{Timeout: 10 * time.Second})

	rc, outputs, logs := collectingContext(t)
	require.NoError(t, r.RunAction(context.Background(), rc))
	assert.Equal(t, "step-1", outputs["echoed"])
	assert.Contains(t, *logs, "done")
}

func TestExecRunnerResults(t *testing.T) {
	tests := []struct {
		name   string
		script string
		run    func(r *ExecRunner, rc *RunContext) (any, error)
		want   any
		errSub string
	}{
		{
			name:   "condition",
			script: `cat >/dev/null; echo '{"status":"ok","result":true}'`,
			run: func(r *ExecRunner, rc *RunContext) (any, error) {
				return r.EvaluateCondition(context.Background(), rc)
			},
			want: true,
		},
		{
			name:   "loop",
			script: `cat >/dev/null; echo '{"status":"ok","result":"step","meta":{"i":1}}'`,
			run: func(r *ExecRunner, rc *RunContext) (any, error) {
				d, m, err := r.NextIteration(context.Background(), rc)
				return fmt.Sprintf("%s:%v", d, m["i"]), err
			},
			want: "step:1",
		},
		{
			name:   "expression",
			script: `cat >/dev/null; echo '{"status":"ok","result":"a, b"}'`,
			run: func(r *ExecRunner, rc *RunContext) (any, error) {
				return r.EvaluateExpression(context.Background(), rc)
			},
			want: "a, b",
		},
		{
			name:   "plugin error",
			script: `cat >/dev/null; echo '{"status":"error","error":"upload refused"}'`,
			run: func(r *ExecRunner, rc *RunContext) (any, error) {
				return nil, r.RunAction(context.Background(), rc)
			},
			errSub: "upload refused",
		},
		{
			name:   "garbage output",
			script: `cat >/dev/null; echo 'hello'`,
			run: func(r *ExecRunner, rc *RunContext) (any, error) {
				return nil, r.RunAction(context.Background(), rc)
			},
			errSub: "decode response",
		},
		{
			name:   "wrong condition result type",
			script: `cat >/dev/null; echo '{"status":"ok","result":"yes"}'`,
			run: func(r *ExecRunner, rc *RunContext) (any, error) {
				return r.EvaluateCondition(context.Background(), rc)
			},
			errSub: "must be a boolean",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scriptPlugin(t, tt.script)
			r := NewExecRunner(p, NodeDefinition{ID: "n", Type: KindAction}, ExecOptions{Timeout: 10 * time.Second})
			rc, _, _ := collectingContext(t)
			got, err := tt.run(r, rc)
			if tt.errSub != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSub)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecRunnerCancellation(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null\nexec sleep 30\n")
	r := NewExecRunner(p, NodeDefinition{ID: "n", Type: KindAction}, ExecOptions{Timeout: time.Minute})
	rc, _, _ := collectingContext(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	err := r.RunAction(ctx, rc)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecRunnerTimeout(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null\nexec sleep 30\n")
	r := NewExecRunner(p, NodeDefinition{ID: "n", Type: KindAction}, ExecOptions{Timeout: 200 * time.Millisecond})
	rc, _, _ := collectingContext(t)

	err := r.RunAction(context.Background(), rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestPluginDefinitionRegisters(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null; echo '{\"status\":\"ok\"}'",
		NodeDefinition{ID: "a", Type: KindAction},
		NodeDefinition{ID: "c", Type: KindCondition},
	)
	reg := NewRegistry()
	require.NoError(t, reg.Register(p.Definition(ExecOptions{})))
	_, ok := reg.GetRunner("ext", "c")
	assert.True(t, ok)
}
