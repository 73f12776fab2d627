package types

// EventKind identifies a classified control event from the engine.
type EventKind string

// Event kind constants. These are the closed set the classifier produces;
// discriminants it cannot interpret map to KindUnhandled.
const (
	KindStarted      EventKind = "execution_start"
	KindNodeExecuted EventKind = "executing"
	KindProgress     EventKind = "progress"
	KindPreview      EventKind = "preview"
	KindSucceeded    EventKind = "execution_success"
	KindFailed       EventKind = "execution_error"
	KindUnhandled    EventKind = "unhandled"
)

// IsTerminal returns true if this event kind ends the tracked execution.
func (k EventKind) IsTerminal() bool {
	return k == KindSucceeded || k == KindFailed
}

// Event is one classified control event.
// Immutable once created: Seq and Ts are stamped by the classifier and the
// payload is never mutated after classification.
type Event struct {
	// Kind is the event kind discriminator.
	Kind EventKind `json:"kind"`
	// Seq is the monotonic arrival-order sequence number, starts at 1.
	Seq int64 `json:"seq"`
	// Ts is the capture timestamp in ISO 8601 UTC format.
	Ts string `json:"ts"`
	// Payload carries the kind-specific fields from the wire message
	// (progress value/max, executing node, error detail, ...).
	Payload map[string]any `json:"payload,omitempty"`
}
