package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// InspectModel is a Bubble Tea model for viewing a saved record.
type InspectModel struct {
	record   *types.Record
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(rec *types.Record) InspectModel {
	return InspectModel{record: rec}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, monitorKeys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Execution Record"))
	b.WriteString("\n\n")

	rec := m.record
	rows := [][]string{
		{"Prompt ID", rec.PromptID},
		{"Client ID", rec.ClientID},
		{"State", string(rec.State)},
		{"Events", fmt.Sprintf("%d", rec.EventCount)},
		{"Duration", fmt.Sprintf("%dms", rec.DurationMs)},
		{"Saved At", rec.SavedAt},
		{"Schema", rec.SchemaVersion},
	}

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "State" {
			value = StateStyle(string(rec.State)).Render(value)
		} else {
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	if rec.Error != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Failure Detail"))
		b.WriteString("\n")
		if msg, ok := rec.Error["exception_message"].(string); ok {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render("  Message:"),
				ErrorStyle.Render(msg)))
		}
		if node, ok := rec.Error["node_id"].(string); ok {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render("  Node:"),
				ValueStyle.Render(node)))
		}
	}

	if len(rec.Events) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Event Trail"))
		b.WriteString("\n")
		for _, ev := range eventTail(rec.Events, 10) {
			b.WriteString(fmt.Sprintf("  %s %s\n",
				LabelStyle.Render(fmt.Sprintf("#%d", ev.Seq)),
				ValueStyle.Render(string(ev.Kind))))
		}
	}

	content := BoxStyle.Render(b.String())
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

// eventTail returns the last n events.
func eventTail(events []types.Event, n int) []types.Event {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// RunInspectTUI runs the record inspector.
func RunInspectTUI(rec *types.Record) error {
	p := tea.NewProgram(NewInspectModel(rec), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders the record without full TUI (for fallback).
func RenderInspectStatic(rec *types.Record) string {
	model := NewInspectModel(rec)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
