package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rndnanthu/Comfyui-Livepreview/ledger"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

func sampleRecord() *types.Record {
	return &types.Record{
		SchemaVersion: types.Version,
		PromptID:      "p-1",
		ClientID:      "client-1",
		State:         types.StateFailed,
		Events: []types.Event{
			{Kind: types.KindStarted, Seq: 1},
			{Kind: types.KindFailed, Seq: 2},
		},
		Error:      map[string]any{"exception_message": "out of memory", "node_id": "3"},
		SavedAt:    "2026-03-01T12:00:05Z",
		DurationMs: 900,
		EventCount: 2,
	}
}

func TestInspectView_ShowsRecordFields(t *testing.T) {
	view := NewInspectModel(sampleRecord()).View()

	for _, want := range []string{"p-1", "client-1", "failed", "out of memory", "started"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestInspectModel_QuitKey(t *testing.T) {
	m := NewInspectModel(sampleRecord())

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if view := updated.View(); view != "" {
		t.Errorf("quitting view = %q, want empty", view)
	}
}

func TestMonitorView_ReflectsLedger(t *testing.T) {
	led := ledger.New("client-1")
	led.SetPromptID("p-7")
	led.Record(&types.Event{Kind: types.KindStarted, Seq: 1, Payload: map[string]any{"prompt_id": "p-7"}})
	led.Record(&types.Event{Kind: types.KindNodeExecuted, Seq: 2, Payload: map[string]any{"node": "KSampler"}})
	led.Record(&types.Event{Kind: types.KindProgress, Seq: 3, Payload: map[string]any{"value": float64(5), "max": float64(10)}})

	m := NewMonitorModel(led)
	m.readLedger()

	view := m.View()
	for _, want := range []string{"p-7", "pending", "KSampler", "3"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestMonitorModel_FrameMsgCounts(t *testing.T) {
	m := NewMonitorModel(ledger.New("client-1"))

	updated, _ := m.Update(frameMsg{width: 512, height: 512, format: "jpeg"})
	updated, _ = updated.(MonitorModel).Update(frameMsg{width: 512, height: 512, format: "jpeg"})

	view := updated.View()
	if !strings.Contains(view, "2 (512x512 jpeg)") {
		t.Errorf("view missing frame counter: %s", view)
	}
}

func TestMonitorModel_QuitsOnTerminalState(t *testing.T) {
	led := ledger.New("client-1")
	if err := led.SetResult(nil); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	m := NewMonitorModel(led)
	_, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Fatal("expected quit command once the run reached a terminal state")
	}
}

func TestEventTail(t *testing.T) {
	events := make([]types.Event, 15)
	for i := range events {
		events[i] = types.Event{Seq: int64(i + 1)}
	}

	tail := eventTail(events, 10)
	if len(tail) != 10 {
		t.Fatalf("tail length = %d, want 10", len(tail))
	}
	if tail[0].Seq != 6 {
		t.Errorf("tail starts at seq %d, want 6", tail[0].Seq)
	}
}
