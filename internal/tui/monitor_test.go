package tui

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/events"
)

func ev(t *testing.T, typ, runID string, at time.Time, data any) tea.Msg {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return eventMsg(events.Event{Type: typ, RunID: runID, At: at, Data: raw})
}

func feed(m Monitor, msgs ...tea.Msg) Monitor {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Monitor)
	}
	return m
}

func TestMonitorTracksRun(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := NewMonitor("run-1", nil, nil)

	m = feed(m,
		tea.WindowSizeMsg{Width: 120, Height: 40},
		ev(t, events.RunStarted, "run-1", start, events.RunSummary{Pipeline: "Loop", Status: engine.RunRunning}),
		ev(t, events.StepStarted, "run-1", start, events.StepSummary{UID: "loop", Origin: "system:for", Kind: "loop"}),
		ev(t, events.StepLog, "run-1", start, events.LogLine{UID: "loop", Level: "info", Message: "iterating"}),
		ev(t, events.StepStarted, "other", start, events.StepSummary{UID: "foreign", Origin: "x:y", Kind: "action"}),
		ev(t, events.StepFinished, "run-1", start.Add(30*time.Millisecond), events.StepSummary{
			UID: "loop", Origin: "system:for", Kind: "loop", Status: engine.StepCompleted,
		}),
	)

	assert.Equal(t, "running", m.Status())
	assert.False(t, m.Done())
	steps := m.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "completed", steps[0].Status)
	assert.Equal(t, "30ms", stepDuration(&steps[0]))

	view := m.View()
	assert.Contains(t, view, "Loop")
	assert.Contains(t, view, "system:for")
	assert.Contains(t, view, "iterating")
	assert.NotContains(t, view, "foreign")
}

func TestMonitorQuitsWhenRunFinishes(t *testing.T) {
	m := NewMonitor("run-1", nil, nil)
	next, cmd := m.Update(ev(t, events.RunFinished, "run-1", time.Now(), events.RunSummary{
		Pipeline: "p", Status: engine.RunFailed, Error: "step a: boom",
	}))
	m = next.(Monitor)

	assert.True(t, m.Done())
	assert.Equal(t, "failed", m.Status())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "step a: boom")
}

func TestMonitorFirstQuitCancelsRun(t *testing.T) {
	cancelled := 0
	m := NewMonitor("run-1", nil, func() { cancelled++ })
	q := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}

	next, cmd := m.Update(q)
	m = next.(Monitor)
	assert.Equal(t, 1, cancelled)
	assert.Nil(t, cmd)
	assert.True(t, strings.Contains(m.View(), "Cancelling"))

	_, cmd = m.Update(q)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 1, cancelled)
}

func TestWaitForEventReportsClosedStream(t *testing.T) {
	ch := make(chan events.Event)
	close(ch)
	assert.IsType(t, streamClosedMsg{}, waitForEvent(ch)())
}
