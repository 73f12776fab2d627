package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rndnanthu/Comfyui-Livepreview/engine"
	"github.com/rndnanthu/Comfyui-Livepreview/ledger"
	"github.com/rndnanthu/Comfyui-Livepreview/preview"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// tickInterval drives ledger polling for the live view.
const tickInterval = 200 * time.Millisecond

// frameMsg announces an assembled preview frame.
type frameMsg struct {
	width  int
	height int
	format string
}

// tickMsg triggers a ledger re-read.
type tickMsg time.Time

// MonitorModel is a Bubble Tea model showing a run in flight: current
// state, executing node, progress, and preview frame counters. It reads
// run data from the ledger on a timer; the ledger's accessors are safe
// to call from the TUI goroutine.
type MonitorModel struct {
	ledger *ledger.Ledger

	progress   progress.Model
	promptID   string
	state      string
	node       string
	percent    float64
	eventCount int64

	frames     int64
	frameShape string

	width    int
	quitting bool
}

// NewMonitorModel creates a monitor bound to the run's ledger.
func NewMonitorModel(led *ledger.Ledger) MonitorModel {
	return MonitorModel{
		ledger:   led,
		progress: progress.New(progress.WithDefaultGradient()),
		state:    string(types.StatePending),
	}
}

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 8
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, monitorKeys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case frameMsg:
		m.frames++
		m.frameShape = fmt.Sprintf("%dx%d %s", msg.width, msg.height, msg.format)
		return m, nil

	case tickMsg:
		m.readLedger()
		if m.state != string(types.StatePending) {
			// Terminal state reached; render one final view then exit.
			m.quitting = true
			return m, tea.Quit
		}
		return m, tick()
	}

	return m, nil
}

// readLedger refreshes the view fields from the run ledger.
func (m *MonitorModel) readLedger() {
	m.promptID = m.ledger.PromptID()
	m.state = string(m.ledger.State())
	m.eventCount = m.ledger.EventCount()

	// Latest node and progress come from the event tail.
	snap := m.ledger.Snapshot()
	for i := len(snap.Events) - 1; i >= 0; i-- {
		ev := snap.Events[i]
		switch ev.Kind {
		case types.KindNodeExecuted:
			if m.node == "" {
				if node, ok := ev.Payload["node"].(string); ok {
					m.node = node
				}
			}
		case types.KindProgress:
			if m.percent == 0 {
				val, okV := ev.Payload["value"].(float64)
				max, okM := ev.Payload["max"].(float64)
				if okV && okM && max > 0 {
					m.percent = val / max
				}
			}
		}
		if m.node != "" && m.percent != 0 {
			break
		}
	}
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}

	promptID := m.promptID
	if promptID == "" {
		promptID = "(waiting)"
	}
	node := m.node
	if node == "" {
		node = "-"
	}
	frameShape := m.frameShape
	if frameShape == "" {
		frameShape = "-"
	}

	content := TitleStyle.Render("Live Preview Monitor") + "\n\n" +
		fmt.Sprintf("%s %s\n", LabelStyle.Render("Prompt:"), ValueStyle.Render(promptID)) +
		fmt.Sprintf("%s %s\n", LabelStyle.Render("State:"), StateStyle(m.state).Render(m.state)) +
		fmt.Sprintf("%s %s\n", LabelStyle.Render("Node:"), NodeStyle.Render(node)) +
		fmt.Sprintf("%s %s\n", LabelStyle.Render("Events:"), ValueStyle.Render(fmt.Sprintf("%d", m.eventCount))) +
		fmt.Sprintf("%s %s\n", LabelStyle.Render("Frames:"), ValueStyle.Render(fmt.Sprintf("%d (%s)", m.frames, frameShape))) +
		"\n" + m.progress.ViewAs(m.percent) + "\n"

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(content) + "\n" + help
}

// monitorKeys defines key bindings for the monitor.
var monitorKeys = struct {
	Quit key.Binding
}{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// MonitorSink feeds assembled frames into a running monitor program.
// Show never blocks the dispatcher: Bubble Tea's Send queues the message.
type MonitorSink struct {
	program *tea.Program
}

// NewMonitorSink wraps a running program as a frame sink.
func NewMonitorSink(program *tea.Program) *MonitorSink {
	return &MonitorSink{program: program}
}

// Show implements engine.Sink.
func (s *MonitorSink) Show(frame *preview.Frame) error {
	if frame == nil {
		return nil
	}
	w, h := frame.Bounds()
	s.program.Send(frameMsg{
		width:  w,
		height: h,
		format: frame.Format,
	})
	return nil
}

var _ engine.Sink = (*MonitorSink)(nil)

// RunMonitor starts the live monitor and blocks until it exits.
func RunMonitor(led *ledger.Ledger) (*tea.Program, func() error) {
	p := tea.NewProgram(NewMonitorModel(led), tea.WithAltScreen())
	return p, func() error {
		_, err := p.Run()
		return err
	}
}
