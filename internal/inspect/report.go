// Package inspect renders recorded runs for the terminal and for scripts.
package inspect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/pipelab/internal/history"
)

// Report is the structured JSON representation of a run report.
type Report struct {
	RunID       string `json:"run_id"`
	Pipeline    string `json:"pipeline"`
	Path        string `json:"path,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
	Workspace   string `json:"workspace,omitempty"`
	Steps       []Step `json:"steps"`
}

// Step is one executed block in the report.
type Step struct {
	Index      int             `json:"index"`
	UID        string          `json:"uid"`
	Node       string          `json:"node"`
	Status     string          `json:"status"`
	DurationMs int64           `json:"duration_ms"`
	Outputs    json.RawMessage `json:"outputs"`
	Logs       []string        `json:"logs,omitempty"`
	Error      string          `json:"error,omitempty"`
	Artifacts  []string        `json:"artifacts,omitempty"`
}

// BuildReport renders a terminal-friendly report for a recorded run.
// workspaceDir is the run's workspace directory, or "" when it was cleared.
func BuildReport(entry history.Entry, workspaceDir string) string {
	report := gatherReportData(entry, workspaceDir)

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Pipeline    : %s\n", renderUnset(report.Pipeline, "<unnamed>"))
	fmt.Fprintf(&out, "Path        : %s\n", renderUnset(report.Path, "<unknown>"))
	fmt.Fprintf(&out, "Fingerprint : %s\n", renderUnset(report.Fingerprint, "<none>"))
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt)
	fmt.Fprintf(&out, "Duration    : %s\n", time.Duration(report.DurationMs)*time.Millisecond)
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.Error)
	}
	fmt.Fprintf(&out, "Workspace   : %s\n", renderUnset(report.Workspace, "<cleared>"))
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s %s %s %s\n", step.Index, step.UID, step.Node, step.Status,
			time.Duration(step.DurationMs)*time.Millisecond)
		if step.Error != "" {
			fmt.Fprintf(&out, "    error      : %s\n", step.Error)
		}
		fmt.Fprintf(&out, "    outputs    :\n")
		for _, line := range strings.Split(strings.TrimSpace(prettyJSON(step.Outputs)), "\n") {
			fmt.Fprintf(&out, "      %s\n", line)
		}
		if len(step.Logs) == 0 {
			fmt.Fprintf(&out, "    logs       : <none>\n")
		} else {
			fmt.Fprintf(&out, "    logs       :\n")
			for _, line := range step.Logs {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
		if len(step.Artifacts) > 0 {
			fmt.Fprintf(&out, "    artifacts  :\n")
			for _, artifact := range step.Artifacts {
				fmt.Fprintf(&out, "      - %s\n", artifact)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n"
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(entry history.Entry, workspaceDir string) (string, error) {
	report := gatherReportData(entry, workspaceDir)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(entry history.Entry, workspaceDir string) *Report {
	report := &Report{
		RunID:       entry.ID,
		Pipeline:    entry.PipelineName,
		Path:        entry.PipelinePath,
		Fingerprint: entry.Fingerprint,
		Status:      string(entry.Status),
		StartedAt:   entry.StartedAt.UTC().Format(time.RFC3339),
		DurationMs:  entry.DurationMs,
		Error:       entry.Error,
		Steps:       make([]Step, 0, len(entry.Steps)),
	}
	if workspaceDir != "" {
		if info, err := os.Stat(workspaceDir); err == nil && info.IsDir() {
			report.Workspace = workspaceDir
		}
	}

	for i, s := range entry.Steps {
		outputs, err := json.Marshal(s.Outputs)
		if err != nil {
			outputs = []byte(fmt.Sprintf("%q", fmt.Sprint(s.Outputs)))
		}
		step := Step{
			Index:   i + 1,
			UID:     s.UID,
			Node:    s.PluginID + ":" + s.NodeID,
			Status:  string(s.Status),
			Outputs: outputs,
			Error:   s.Error,
		}
		if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
			step.DurationMs = s.FinishedAt.Sub(s.StartedAt).Milliseconds()
		}
		for _, l := range s.Logs {
			step.Logs = append(step.Logs, fmt.Sprintf("%s %-5s %s", l.Time.UTC().Format("15:04:05.000"), strings.ToUpper(l.Level), l.Message))
		}
		if report.Workspace != "" {
			step.Artifacts, _ = listArtifacts(filepath.Join(report.Workspace, "steps", s.UID))
		}
		report.Steps = append(report.Steps, step)
	}
	return report
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func listArtifacts(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	artifacts := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
