package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/events"
)

func event(t *testing.T, typ, runID string, at time.Time, data any) events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{Type: typ, RunID: runID, At: at, Data: raw}
}

func TestRunTrackerFollowsLifecycle(t *testing.T) {
	now := time.Now()
	tr := newRunTracker()

	tr.apply(event(t, events.RunQueued, "r1", now, map[string]string{"pipeline": "loop"}))
	require.Contains(t, tr.pipelines, "loop")
	assert.Len(t, tr.pipelines["loop"].Active, 1)

	tr.apply(event(t, events.RunStarted, "r1", now, map[string]string{"pipeline": "loop", "status": "running"}))
	tr.apply(event(t, events.StepStarted, "r1", now, map[string]string{"uid": "a", "origin": "system:log"}))
	assert.Equal(t, "system:log", tr.runs["r1"].CurrentStep)

	tr.apply(event(t, events.RunFinished, "r1", now.Add(time.Second), map[string]string{
		"pipeline": "loop", "status": "failed", "error": "boom",
	}))
	p := tr.pipelines["loop"]
	assert.Empty(t, p.Active)
	assert.Equal(t, "failed", p.LastStatus)
	assert.Equal(t, 1, p.Runs)
	require.Len(t, tr.recent, 1)
	assert.Equal(t, "boom", tr.recent[0].Error)
	assert.NotContains(t, tr.runs, "r1")

	out := renderRecent(tr, NewDefaultTheme(), 100)
	assert.Contains(t, out, "loop")
	assert.Contains(t, out, "1s")
}

func TestRunTrackerIgnoresEventsWithoutRun(t *testing.T) {
	tr := newRunTracker()
	tr.apply(event(t, events.RunStarted, "", time.Now(), map[string]string{"pipeline": "x"}))
	assert.Empty(t, tr.pipelines)
	assert.Empty(t, tr.runs)
}

func TestReadStreamDecodesEnvelopes(t *testing.T) {
	ev := event(t, events.StepLog, "r1", time.Now().UTC(), map[string]string{"message": "hi"})
	ev.ID = 7
	envelope, err := json.Marshal(ev)
	require.NoError(t, err)

	stream := ": keep-alive\n\n" +
		"id: 7\nevent: step.log\ndata: " + string(envelope) + "\n\n" +
		"data: not json\n\n"
	ch := make(chan events.Event, 4)
	readStream(strings.NewReader(stream), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, "[r1] hi", describeEvent(got[0]))
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":61,"queue_depth":2,"nodes_loaded":9,"current_run":"abc"}`))
	}))
	defer srv.Close()

	msg := fetchHealth(srv.URL, "k")
	h, ok := msg.(healthMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 9, h.NodesLoaded)
	assert.Equal(t, "abc", h.CurrentRun)

	_, isErr := fetchHealth(srv.URL, "wrong").(errMsg)
	assert.True(t, isErr)
}

func TestActivityDecays(t *testing.T) {
	start := time.Now()
	var a Activity
	a.OnEvent(start)
	assert.Equal(t, activityMax, a.Level())
	a.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.Level())
	a.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, a.Level())
}

func TestModelView(t *testing.T) {
	m := New("http://127.0.0.1:0", "")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(eventMsg(event(t, events.RunStarted, "run-123456789", time.Now(), map[string]string{"pipeline": "demo"})))
	next, _ = next.Update(healthMsg{Status: "ok", NodesLoaded: 4})

	view := next.View()
	assert.Contains(t, view, "PIPELAB WATCH")
	assert.Contains(t, view, "demo")
	assert.Contains(t, view, "run-1234")
	assert.Contains(t, view, "Nodes: 4")
}
