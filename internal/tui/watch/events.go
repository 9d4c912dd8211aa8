package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipelab/internal/events"
)

const maxEventLines = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4
	lines := []string{theme.Title.Render("EVENT STREAM")}
	if len(eventLog) == 0 {
		lines = append(lines, theme.Dim.Render("  Waiting for events..."))
	} else {
		var body []string
		for i, e := range eventLog {
			if i >= maxEventLines {
				break
			}
			body = append(body, formatEvent(e, theme))
		}
		lines = append(lines, lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(body, "\n")))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	style := theme.Dim
	switch e.Type {
	case events.RunStarted, events.StepStarted:
		style = theme.StatusRunning
	case events.RunQueued:
		style = theme.Highlight
	case events.RunFinished, events.StepFinished:
		var data struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(e.Data, &data)
		style = theme.StatusStyle(data.Status)
	}
	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-14s", e.Type)), describeEvent(e))
}

func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(e.RunID)))
	}
	for _, key := range []string{"pipeline", "uid", "origin", "status", "message", "error"} {
		if v, ok := data[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
