package classify

import (
	"errors"
	"testing"
	"time"

	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestClassify_KnownKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind types.EventKind
	}{
		{"execution start", `{"type":"execution_start","data":{"prompt_id":"p-1"}}`, types.KindStarted},
		{"executing node", `{"type":"executing","data":{"node":"7"}}`, types.KindNodeExecuted},
		{"progress", `{"type":"progress","data":{"value":5,"max":10}}`, types.KindProgress},
		{"progress alias", `{"type":"execution_progress","data":{"value":5,"max":10}}`, types.KindProgress},
		{"preview announce", `{"type":"b_preview","data":{}}`, types.KindPreview},
		{"success", `{"type":"execution_success","data":{"prompt_id":"p-1"}}`, types.KindSucceeded},
		{"success alias complete", `{"type":"execution_complete","data":{}}`, types.KindSucceeded},
		{"success alias finished", `{"type":"execution_finished","data":{}}`, types.KindSucceeded},
		{"error", `{"type":"execution_error","data":{"node_id":"3","exception_message":"boom"}}`, types.KindFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(nil).WithClock(fixedClock())
			ev, err := c.Classify([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if ev == nil {
				t.Fatal("no event produced")
			}
			if ev.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", ev.Kind, tt.kind)
			}
			if ev.Seq != 1 {
				t.Errorf("Seq = %d, want 1", ev.Seq)
			}
			if ev.Ts == "" {
				t.Error("Ts not stamped")
			}
		})
	}
}

func TestClassify_SequenceIsArrivalOrder(t *testing.T) {
	c := NewClassifier(nil).WithClock(fixedClock())

	messages := []string{
		`{"type":"execution_start","data":{"prompt_id":"p-1"}}`,
		`{"type":"progress","data":{"value":0,"max":10}}`,
		`{"type":"progress","data":{"value":5,"max":10}}`,
		`{"type":"some_new_thing","data":{}}`,
		`{"type":"execution_success","data":{}}`,
	}

	var lastSeq int64
	for i, raw := range messages {
		ev, err := c.Classify([]byte(raw))
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("message %d: Seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Seq <= lastSeq {
			t.Errorf("message %d: Seq %d not strictly increasing", i, ev.Seq)
		}
		lastSeq = ev.Seq
	}
	if c.Seq() != int64(len(messages)) {
		t.Errorf("Seq() = %d, want %d", c.Seq(), len(messages))
	}
}

func TestClassify_UnknownDiscriminantRecorded(t *testing.T) {
	c := NewClassifier(nil)

	ev, err := c.Classify([]byte(`{"type":"future_event","data":{"x":1}}`))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ev.Kind != types.KindUnhandled {
		t.Errorf("Kind = %q, want %q", ev.Kind, types.KindUnhandled)
	}
	if ev.Payload["type"] != "future_event" {
		t.Errorf("Payload[type] = %v, want future_event", ev.Payload["type"])
	}
	if ev.Payload["x"] != float64(1) {
		t.Errorf("Payload[x] = %v, want 1", ev.Payload["x"])
	}
}

func TestClassify_UnknownWithoutDataStillRecorded(t *testing.T) {
	c := NewClassifier(nil)

	ev, err := c.Classify([]byte(`{"type":"status"}`))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ev.Kind != types.KindUnhandled {
		t.Errorf("Kind = %q, want %q", ev.Kind, types.KindUnhandled)
	}
	if ev.Payload["type"] != "status" {
		t.Errorf("Payload[type] = %v, want status", ev.Payload["type"])
	}
}

func TestClassify_IgnoredTelemetry(t *testing.T) {
	c := NewClassifier(DefaultIgnored)

	ev, err := c.Classify([]byte(`{"type":"crystools.monitor","data":{"gpu":97}}`))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ev != nil {
		t.Errorf("ignored type produced event %+v", ev)
	}
	if c.Seq() != 0 {
		t.Errorf("ignored type consumed a sequence number: Seq() = %d", c.Seq())
	}
}

func TestClassify_MalformedJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"truncated", `{"type":"executing"`},
		{"missing type", `{"data":{"node":"7"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(nil)
			ev, err := c.Classify([]byte(tt.raw))
			if ev != nil {
				t.Errorf("malformed input produced event %+v", ev)
			}

			var classifyErr *ClassifyError
			if !errors.As(err, &classifyErr) {
				t.Fatalf("expected *ClassifyError, got %v", err)
			}
			if c.Seq() != 0 {
				t.Errorf("malformed input consumed a sequence number: Seq() = %d", c.Seq())
			}
		})
	}
}
