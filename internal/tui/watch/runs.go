package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipelab/internal/events"
)

const maxRecentRuns = 10

// PipelineState aggregates runs of one pipeline seen on the stream.
type PipelineState struct {
	Name       string
	Active     map[string]*RunState
	LastStatus string
	LastRun    time.Time
	Runs       int
}

// RunState tracks one run.
type RunState struct {
	ID          string
	Pipeline    string
	Status      string
	CurrentStep string
	Error       string
	StartTime   time.Time
	EndTime     time.Time
}

type runTracker struct {
	pipelines map[string]*PipelineState
	runs      map[string]*RunState
	recent    []*RunState
}

func newRunTracker() *runTracker {
	return &runTracker{
		pipelines: make(map[string]*PipelineState),
		runs:      make(map[string]*RunState),
	}
}

func (t *runTracker) apply(e events.Event) {
	if e.RunID == "" {
		return
	}
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	run, ok := t.runs[e.RunID]
	if !ok {
		run = &RunState{ID: e.RunID, Status: "queued"}
		t.runs[e.RunID] = run
	}
	if name, _ := data["pipeline"].(string); name != "" {
		run.Pipeline = name
	}
	p := t.pipeline(run.Pipeline)

	switch e.Type {
	case events.RunQueued:
		if p != nil {
			p.Active[run.ID] = run
		}
	case events.RunStarted:
		run.Status = "running"
		run.StartTime = e.At
		if p != nil {
			p.Active[run.ID] = run
		}
	case events.StepStarted:
		run.CurrentStep, _ = data["origin"].(string)
	case events.RunFinished:
		run.Status, _ = data["status"].(string)
		run.Error, _ = data["error"].(string)
		run.EndTime = e.At
		run.CurrentStep = ""
		if p != nil {
			delete(p.Active, run.ID)
			p.LastStatus = run.Status
			p.LastRun = e.At
			p.Runs++
		}
		delete(t.runs, run.ID)
		t.recent = append([]*RunState{run}, t.recent...)
		if len(t.recent) > maxRecentRuns {
			t.recent = t.recent[:maxRecentRuns]
		}
	}
}

func (t *runTracker) pipeline(name string) *PipelineState {
	if name == "" {
		return nil
	}
	p, ok := t.pipelines[name]
	if !ok {
		p = &PipelineState{Name: name, Active: make(map[string]*RunState)}
		t.pipelines[name] = p
	}
	return p
}

func (t *runTracker) sortedNames() []string {
	names := make([]string, 0, len(t.pipelines))
	for name := range t.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderPipelines(t *runTracker, selected int, theme Theme, width int) string {
	innerWidth := width - 4
	if len(t.pipelines) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("PIPELINES"),
			theme.Dim.Render("  No pipeline activity yet..."),
		))
	}

	lines := []string{theme.Title.Render("PIPELINES")}
	for i, name := range t.sortedNames() {
		lines = append(lines, renderPipelineRow(i+1, t.pipelines[name], i == selected, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderPipelineRow(num int, p *PipelineState, isSelected bool, theme Theme) string {
	status := theme.Dim.Render("[idle]")
	if n := len(p.Active); n > 0 {
		status = theme.StatusRunning.Render(fmt.Sprintf("[%d active]", n))
	}

	var last string
	if !p.LastRun.IsZero() {
		last = fmt.Sprintf("Last: %s %s  Runs: %d",
			formatAgo(time.Since(p.LastRun).Round(time.Second)),
			theme.StatusStyle(p.LastStatus).Render(p.LastStatus), p.Runs)
	}

	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = nameStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	var line strings.Builder
	fmt.Fprintf(&line, " %d. %s  %s  %s", num, nameStyle.Render(fmt.Sprintf("%-24s", p.Name)), status, last)

	ids := make([]string, 0, len(p.Active))
	for id := range p.Active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		run := p.Active[id]
		duration := "-"
		if !run.StartTime.IsZero() {
			duration = time.Since(run.StartTime).Round(time.Millisecond).String()
		}
		step := run.CurrentStep
		if step == "" {
			step = run.Status
		}
		fmt.Fprintf(&line, "\n    └─ Run %s: %s %s", theme.Highlight.Render(shortID(id)), step, theme.Dim.Render(duration))
	}
	return line.String()
}

func renderRecent(t *runTracker, theme Theme, width int) string {
	innerWidth := width - 4
	lines := []string{theme.Title.Render("RECENT RUNS")}
	if len(t.recent) == 0 {
		lines = append(lines, theme.Dim.Render("  No finished runs yet..."))
	}
	for _, run := range t.recent {
		duration := "-"
		if !run.StartTime.IsZero() && !run.EndTime.IsZero() {
			duration = run.EndTime.Sub(run.StartTime).Round(time.Millisecond).String()
		}
		line := fmt.Sprintf(" %s  %-24s %s  %s",
			theme.Highlight.Render(shortID(run.ID)),
			run.Pipeline,
			theme.StatusStyle(run.Status).Render(fmt.Sprintf("%-9s", run.Status)),
			theme.Dim.Render(duration))
		if run.Error != "" {
			line += "  " + theme.StatusFailed.Render(run.Error)
		}
		lines = append(lines, line)
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
