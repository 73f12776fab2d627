// Package classify interprets JSON control messages into typed events.
package classify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// DefaultIgnored lists control message types skipped entirely: high-volume
// telemetry that is neither classified nor recorded.
var DefaultIgnored = []string{"crystools.monitor"}

// ClassifyError reports a control message that could not be classified.
// Distinct from an unknown discriminant (which yields an unhandled event):
// a ClassifyError means the message itself was malformed. Recoverable; the
// dispatcher logs and continues.
type ClassifyError struct {
	Msg string
	Err error
}

func (e *ClassifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ClassifyError) Unwrap() error {
	return e.Err
}

// controlMessage is the wire shape of a textual control message.
type controlMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Classifier turns raw control messages into stamped events.
//
// Each produced event carries the next monotonic sequence number and a
// wall-clock capture timestamp. The counter belongs to this instance; one
// classifier tracks one execution.
type Classifier struct {
	seq     int64
	now     func() time.Time
	ignored map[string]bool
}

// NewClassifier creates a classifier skipping the given message types.
// Pass DefaultIgnored for the standard telemetry skip list; nil skips nothing.
func NewClassifier(ignored []string) *Classifier {
	skip := make(map[string]bool, len(ignored))
	for _, t := range ignored {
		skip[t] = true
	}
	return &Classifier{
		now:     time.Now,
		ignored: skip,
	}
}

// WithClock returns the classifier with a replacement time source.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Classify interprets one raw control message.
//
// Returns (nil, nil) for ignored telemetry types. Returns a *ClassifyError
// for malformed input (invalid JSON, missing discriminant). Any other
// message produces an event: recognized discriminants map to their kind,
// everything else becomes an unhandled event so the audit trail stays
// complete.
func (c *Classifier) Classify(raw []byte) (*types.Event, error) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ClassifyError{Msg: "invalid control message JSON", Err: err}
	}
	if msg.Type == "" {
		return nil, &ClassifyError{Msg: "control message missing type field"}
	}

	if c.ignored[msg.Type] {
		return nil, nil
	}

	kind, known := kindFor(msg.Type)

	payload := msg.Data
	if !known {
		// Preserve the original discriminant for unhandled kinds.
		if payload == nil {
			payload = make(map[string]any, 1)
		}
		payload["type"] = msg.Type
	}

	c.seq++
	return &types.Event{
		Kind:    kind,
		Seq:     c.seq,
		Ts:      c.now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}, nil
}

// Seq returns the last assigned sequence number.
func (c *Classifier) Seq() int64 {
	return c.seq
}

// kindFor maps a wire discriminant to an event kind.
// The engine has shipped several aliases for the terminal success message;
// all of them map to KindSucceeded.
func kindFor(wireType string) (types.EventKind, bool) {
	switch wireType {
	case "execution_start":
		return types.KindStarted, true
	case "executing":
		return types.KindNodeExecuted, true
	case "progress", "execution_progress":
		return types.KindProgress, true
	case "b_preview":
		return types.KindPreview, true
	case "execution_success", "execution_complete", "execution_finished":
		return types.KindSucceeded, true
	case "execution_error":
		return types.KindFailed, true
	default:
		return types.KindUnhandled, false
	}
}
