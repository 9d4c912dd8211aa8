package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/pipeline"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	stdoutCh := make(chan []byte, 1)
	stderrCh := make(chan []byte, 1)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutCh
	stderrBytes := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLICaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

// writeSettings creates a settings file whose state, cache, plugins and
// pipelines all live under a temp dir.
func writeSettings(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelab.yaml")
	content := fmt.Sprintf(`version: "3.0.0"
service:
  log_level: error
state:
  path: %s
cache_folder: %s
plugins_dir: %s
pipelines_dir: %s
execution:
  policy: fail-fast
`,
		filepath.Join(dir, "state.db"),
		filepath.Join(dir, "cache"),
		filepath.Join(dir, "plugins"),
		filepath.Join(dir, "pipelines"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pipelines"), 0o755))
	return path, dir
}

func TestRunCLIRootVersionFlag(t *testing.T) {
	code, stdout, _ := runCLICaptured(t, "--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "pipelab")
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	origVersion, origCommit := version, gitCommit
	version, gitCommit = "1.2.3", "abcdef1234567890"
	t.Cleanup(func() { version, gitCommit = origVersion, origCommit })

	code, stdout, _ := runCLICaptured(t, "version", "--json")
	require.Equal(t, 0, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "1.2.3", got["version"])
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := runCLICaptured(t, "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "frobnicate")
}

func TestRunCLINoArgsPrintsUsage(t *testing.T) {
	code, _, stderr := runCLICaptured(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage")
}

func TestRunPresetWritesJSONRecord(t *testing.T) {
	settings, _ := writeSettings(t)

	code, stdout, stderr := runCLICaptured(t, "run", "preset:loop", "-o", "-", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var rec struct {
		ID     string                     `json:"id"`
		Status engine.RunStatus           `json:"status"`
		Steps  map[string]json.RawMessage `json:"steps"`
		Order  []string                   `json:"order"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rec))
	assert.Equal(t, engine.RunCompleted, rec.Status)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.Steps)
}

func TestRunThenHistoryListAndShow(t *testing.T) {
	settings, _ := writeSettings(t)

	code, stdout, stderr := runCLICaptured(t, "run", "preset:if", "-o", "-", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rec))

	code, stdout, stderr = runCLICaptured(t, "history", "list", "--json", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	var entries []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].ID)
	assert.Equal(t, "completed", entries[0].Status)

	code, stdout, stderr = runCLICaptured(t, "history", "show", rec.ID, "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, rec.ID)
	assert.Contains(t, stdout, "system:branch")

	code, _, _ = runCLICaptured(t, "history", "show", "missing", "--config", settings)
	assert.Equal(t, exitUsage, code)

	code, stdout, _ = runCLICaptured(t, "history", "clear", "--config", settings)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Deleted 1 runs")
}

func TestRunNoHistorySkipsRecording(t *testing.T) {
	settings, _ := writeSettings(t)

	code, _, stderr := runCLICaptured(t, "run", "preset:blank", "--no-history", "-o", "-", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, _ := runCLICaptured(t, "history", "list", "--config", settings)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "No runs recorded.")
}

func TestRunLibraryPipelineWithVariableOverride(t *testing.T) {
	settings, dir := writeSettings(t)
	doc, err := pipeline.Preset("demo")
	require.NoError(t, err)
	require.NoError(t, pipeline.SaveFile(filepath.Join(dir, "pipelines", "demo.json"), doc))

	code, stdout, stderr := runCLICaptured(t, "run", "demo", "--var", "greeting=bonjour", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Status      : completed")
	assert.Contains(t, stdout, "bonjour")
}

func TestRunMissingPipelineIsUsageError(t *testing.T) {
	settings, _ := writeSettings(t)
	code, _, stderr := runCLICaptured(t, "run", "nope", "--config", settings)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Load error")
}

func TestBuildRunRequest(t *testing.T) {
	tests := []struct {
		name    string
		trigger string
		payload string
		vars    []string
		wantErr string
		check   func(t *testing.T, req engine.Request)
	}{
		{
			name: "empty",
			check: func(t *testing.T, req engine.Request) {
				assert.Equal(t, pipeline.Origin{}, req.Trigger)
				assert.Nil(t, req.Variables)
			},
		},
		{
			name:    "trigger and payload",
			trigger: "system:webhook",
			payload: `{"body": {"x": 1}}`,
			check: func(t *testing.T, req engine.Request) {
				assert.Equal(t, pipeline.Origin{PluginID: "system", NodeID: "webhook"}, req.Trigger)
				assert.Equal(t, map[string]any{"x": float64(1)}, req.Payload["body"])
			},
		},
		{
			name: "variables parse JSON and fall back to strings",
			vars: []string{"n=3", "s=hello", "list=[1,2]", "flag=true"},
			check: func(t *testing.T, req engine.Request) {
				assert.Equal(t, map[string]any{
					"n":    float64(3),
					"s":    "hello",
					"list": []any{float64(1), float64(2)},
					"flag": true,
				}, req.Variables)
			},
		},
		{name: "bad trigger", trigger: "manual", wantErr: "plugin:node"},
		{name: "bad payload", payload: "{", wantErr: "payload"},
		{name: "bad variable", vars: []string{"novalue"}, wantErr: "id=value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRunRequest(tt.trigger, tt.payload, tt.vars)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, req)
		})
	}
}

const v1Pipeline = `{
  "version": "1.0.0",
  "name": "legacy",
  "description": "",
  "variables": [],
  "canvas": {
    "blocks": [
      {"type": "event", "uid": "start", "origin": {"pluginId": "system", "nodeId": "manual"}, "params": {}},
      {"type": "action", "uid": "wait", "origin": {"pluginId": "system", "nodeId": "sleep"}, "params": {"duration": 1}}
    ]
  }
}`

func TestMigrateCheckAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(v1Pipeline), 0o644))

	code, stdout, _ := runCLICaptured(t, "migrate", path, "--check")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stdout, "needs migrating")

	code, _, stderr := runCLICaptured(t, "migrate", path, "--write")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	doc, err := pipeline.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.CurrentVersion, doc.Version)
	require.Len(t, doc.Canvas.Triggers, 1)
	assert.True(t, doc.Canvas.Blocks[0].Params["duration"].IsExpression())

	code, stdout, _ = runCLICaptured(t, "migrate", path, "--check")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "up to date")
}

func TestMigrateToIntermediateVersionOnStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(v1Pipeline), 0o644))

	code, stdout, stderr := runCLICaptured(t, "migrate", path, "--target", "2.0.0")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "2.0.0", got["version"])
}

func TestValidateReportsUnknownNode(t *testing.T) {
	settings, dir := writeSettings(t)
	good := filepath.Join(dir, "good.json")
	doc, err := pipeline.Preset("loop")
	require.NoError(t, err)
	require.NoError(t, pipeline.SaveFile(good, doc))

	code, stdout, stderr := runCLICaptured(t, "validate", good, "--config", settings)
	require.Equal(t, 0, code, "stdout: %s stderr: %s", stdout, stderr)

	doc.Canvas.Blocks[0].Children[0].Origin = pipeline.Origin{PluginID: "ghost", NodeID: "boo"}
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, pipeline.SaveFile(bad, doc))

	code, stdout, _ = runCLICaptured(t, "validate", bad, "--json", "--config", settings)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stdout, "ghost")
}

func TestNodesListsBuiltins(t *testing.T) {
	settings, _ := writeSettings(t)
	code, stdout, _ := runCLICaptured(t, "nodes", "--plugin", "system", "--config", settings)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "branch")
	assert.Contains(t, stdout, "manual")
	assert.NotContains(t, stdout, "filesystem")
}

func TestPresetsSave(t *testing.T) {
	code, stdout, _ := runCLICaptured(t, "presets")
	require.Equal(t, 0, code)
	for _, name := range pipeline.PresetNames() {
		assert.Contains(t, stdout, name)
	}

	out := filepath.Join(t.TempDir(), "demo.yaml")
	code, _, stderr := runCLICaptured(t, "presets", "demo", "--save", out)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	doc, err := pipeline.LoadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "Demo", doc.Name)
}

func TestCacheUsageAndClean(t *testing.T) {
	settings, dir := writeSettings(t)
	runDir := filepath.Join(dir, "cache", "runs", "old-run", "steps", "x")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "out.txt"), []byte("hello"), 0o644))

	code, stdout, stderr := runCLICaptured(t, "cache", "usage", "--json", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	var usage struct {
		Runs  int   `json:"runs"`
		Bytes int64 `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &usage))
	assert.Equal(t, 1, usage.Runs)
	assert.Equal(t, int64(5), usage.Bytes)

	code, stdout, _ = runCLICaptured(t, "cache", "clean", "--config", settings)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Removed 1 run workspaces")
	_, err := os.Stat(filepath.Join(dir, "cache", "runs", "old-run"))
	assert.True(t, os.IsNotExist(err))
}

func TestConfigGetAndSet(t *testing.T) {
	settings, _ := writeSettings(t)

	code, stdout, _ := runCLICaptured(t, "config", "get", "execution.policy", "--config", settings)
	require.Equal(t, 0, code)
	assert.Equal(t, "fail-fast", strings.TrimSpace(stdout))

	code, _, stderr := runCLICaptured(t, "config", "set", "execution.policy=best-effort", "--config", settings)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, _ = runCLICaptured(t, "config", "get", "execution.policy", "--config", settings)
	require.Equal(t, 0, code)
	assert.Equal(t, "best-effort", strings.TrimSpace(stdout))

	code, _, stderr = runCLICaptured(t, "config", "set", "execution.policy=sometimes", "--config", settings)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, "execution.policy")

	data, err := os.ReadFile(settings)
	require.NoError(t, err)
	assert.Contains(t, string(data), "best-effort")
}

func TestConfigNounHelp(t *testing.T) {
	for _, noun := range []string{"config", "history", "cache"} {
		code, stdout, _ := runCLICaptured(t, noun, "--help")
		assert.Equal(t, 0, code, noun)
		assert.Contains(t, stdout, "Usage: pipelab "+noun, noun)
	}
}
