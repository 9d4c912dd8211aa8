// Package tui renders live run progress in the terminal.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipelab/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const maxLogLines = 200

// --- Types ---

// StepState is what the monitor knows about one block.
type StepState struct {
	UID       string
	Origin    string
	Kind      string
	Status    string
	Error     string
	StartTime time.Time
	EndTime   time.Time
}

// Monitor is a bubbletea model following a single run.
type Monitor struct {
	runID  string
	events <-chan events.Event
	cancel func()

	width  int
	height int

	pipeline   string
	status     string
	runError   string
	duration   string
	cancelling bool
	done       bool

	steps []*StepState
	index map[string]*StepState
	logs  []string

	stepTable table.Model
	logView   viewport.Model
	spin      spinner.Model
}

type eventMsg events.Event
type streamClosedMsg struct{}

// NewMonitor follows runID on ch. cancel, when set, is called the first
// time the user presses q.
func NewMonitor(runID string, ch <-chan events.Event, cancel func()) Monitor {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Step", Width: 14},
			{Title: "Node", Width: 22},
			{Title: "Kind", Width: 10},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning

	return Monitor{
		runID:     runID,
		events:    ch,
		cancel:    cancel,
		status:    "queued",
		index:     make(map[string]*StepState),
		stepTable: t,
		logView:   viewport.New(80, 8),
		spin:      sp,
	}
}

// Status is the last run status seen.
func (m Monitor) Status() string { return m.status }

// Done reports whether run.finished was received.
func (m Monitor) Done() bool { return m.done }

// Steps returns the steps in the order they started.
func (m Monitor) Steps() []StepState {
	out := make([]StepState, 0, len(m.steps))
	for _, s := range m.steps {
		out = append(out, *s)
	}
	return out
}

func (m Monitor) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), m.spin.Tick)
}

// --- Update ---

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done || m.cancel == nil || m.cancelling {
				return m, tea.Quit
			}
			m.cancelling = true
			m.cancel()
			return m, nil
		case "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.stepTable.SetWidth(max(m.width-6, 20))
		m.logView.Width = max(m.width-6, 20)
		m.logView.Height = max(m.height/3, 4)

	case eventMsg:
		m.apply(events.Event(msg))
		m.refresh()
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.stepTable, cmd = m.stepTable.Update(msg)
	return m, cmd
}

func (m *Monitor) apply(e events.Event) {
	if e.RunID != "" && e.RunID != m.runID {
		return
	}
	switch e.Type {
	case events.RunStarted, events.RunFinished:
		var sum events.RunSummary
		_ = json.Unmarshal(e.Data, &sum)
		if sum.Pipeline != "" {
			m.pipeline = sum.Pipeline
		}
		if sum.Status != "" {
			m.status = string(sum.Status)
		}
		if e.Type == events.RunFinished {
			m.runError = sum.Error
			m.duration = sum.Duration
			m.done = true
		}

	case events.StepStarted, events.StepFinished:
		var sum events.StepSummary
		if err := json.Unmarshal(e.Data, &sum); err != nil || sum.UID == "" {
			return
		}
		step, ok := m.index[sum.UID]
		if !ok {
			step = &StepState{UID: sum.UID}
			m.index[sum.UID] = step
			m.steps = append(m.steps, step)
		}
		step.Origin = sum.Origin
		step.Kind = sum.Kind
		if e.Type == events.StepStarted {
			// Loop children re-enter once per iteration.
			step.Status = "running"
			step.Error = ""
			step.StartTime = e.At
			step.EndTime = time.Time{}
			return
		}
		step.Status = string(sum.Status)
		step.Error = sum.Error
		step.EndTime = e.At

	case events.StepLog:
		var line events.LogLine
		if err := json.Unmarshal(e.Data, &line); err != nil {
			return
		}
		m.logs = append(m.logs, fmt.Sprintf("%s %-5s %s  %s",
			e.At.Format("15:04:05"), strings.ToUpper(line.Level), line.UID, line.Message))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
	}
}

func (m *Monitor) refresh() {
	rows := make([]table.Row, 0, len(m.steps))
	for _, s := range m.steps {
		rows = append(rows, table.Row{
			statusSymbol(s.Status),
			short(s.UID, 14),
			s.Origin,
			s.Kind,
			stepDuration(s),
		})
	}
	m.stepTable.SetRows(rows)
	m.logView.SetContent(strings.Join(m.logs, "\n"))
	m.logView.GotoBottom()
}

func statusSymbol(status string) string {
	switch status {
	case "running":
		return statusRunning.Render("◉")
	case "completed":
		return statusOK.Render("●")
	case "failed":
		return statusFailed.Render("∅")
	case "cancelled":
		return statusFailed.Render("◔")
	default:
		return statusDim.Render("○")
	}
}

func stepDuration(s *StepState) string {
	if s.StartTime.IsZero() {
		return "-"
	}
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime).Round(time.Millisecond).String()
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- View ---

func (m Monitor) View() string {
	width := m.width
	if width == 0 {
		width = 84
	}

	steps := borderStyle.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Steps"),
			m.stepTable.View(),
		),
	)
	logs := "  No logs yet..."
	if len(m.logs) > 0 {
		logs = m.logView.View()
	}
	logsView := borderStyle.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Logs"), logs),
	)

	parts := []string{m.renderHeader(width), steps, logsView}
	if m.runError != "" {
		parts = append(parts, statusFailed.Render(" error: "+m.runError))
	}
	help := " [q] Cancel run • [esc] Detach"
	if m.cancelling {
		help = " Cancelling... [q] Quit"
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(help))

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Monitor) renderHeader(width int) string {
	var status string
	switch m.status {
	case "completed":
		status = statusOK.Render("COMPLETED")
	case "failed", "cancelled":
		status = statusFailed.Render(strings.ToUpper(m.status))
	case "running":
		status = m.spin.View() + statusRunning.Render("RUNNING")
	default:
		status = statusDim.Render(strings.ToUpper(m.status))
	}
	items := []string{
		"Pipeline: " + m.pipeline,
		"Run: " + short(m.runID, 8),
		"Status: " + status,
		fmt.Sprintf("Steps: %d", len(m.steps)),
	}
	col := (width - 4) / len(items)
	cols := make([]string, 0, len(items))
	for _, item := range items {
		cols = append(cols, lipgloss.NewStyle().Width(col).Render(item))
	}
	return borderStyle.Width(width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

// --- Commands ---

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Watch runs the monitor until the run finishes or the user leaves, and
// returns the final model.
func Watch(runID string, ch <-chan events.Event, cancel func(), opts ...tea.ProgramOption) (Monitor, error) {
	final, err := tea.NewProgram(NewMonitor(runID, ch, cancel), opts...).Run()
	if err != nil {
		return Monitor{}, fmt.Errorf("run monitor: %w", err)
	}
	m, _ := final.(Monitor)
	return m, nil
}
