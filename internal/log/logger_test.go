package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func resetWith(w *bytes.Buffer) {
	logger = nil
	once = *new(sync.Once)
	output = w
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	resetWith(&buf)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	Debug("visible", "k", "v")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "visible" || out["k"] != "v" {
		t.Errorf("unexpected record: %v", out)
	}
}

func TestSetupTextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	resetWith(&buf)

	Setup("warn", "text")
	Info("hidden")
	Warn("shown")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("info record should be filtered at WARN: %q", got)
	}
	if !strings.Contains(got, "msg=shown") {
		t.Errorf("expected text handler output, got %q", got)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("engine").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "engine" {
		t.Errorf("Expected component 'engine', got %v", out["component"])
	}
}

func TestWithStep(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithStep("run-1", "a").Info("step msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["run_id"] != "run-1" {
		t.Errorf("Expected run_id 'run-1', got %v", out["run_id"])
	}
	if out["step_uid"] != "a" {
		t.Errorf("Expected step_uid 'a', got %v", out["step_uid"])
	}
}

func TestWithPluginAndRun(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithPlugin("system").Info("p")
	WithRun("r").Info("r")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"plugin":"system"`) {
		t.Errorf("missing plugin attr: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"run_id":"r"`) {
		t.Errorf("missing run_id attr: %s", lines[1])
	}
}
