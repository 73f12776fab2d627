package types

// RunState is the terminal state of the tracked execution.
type RunState string

// Run state constants. The ledger transitions pending -> succeeded|failed
// exactly once and never regresses.
const (
	StatePending   RunState = "pending"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
)

// Record is the durable execution record handed to persistence.
// Field names match the upstream tracker's results file so downstream
// consumers of either tool read the same shape.
type Record struct {
	// SchemaVersion is the record schema version (lockstep with Version).
	SchemaVersion string `json:"schema_version" msgpack:"schema_version"`
	// PromptID identifies the tracked run. Empty until execution_start
	// is observed (interrupt before start saves an empty prompt_id).
	PromptID string `json:"prompt_id" msgpack:"prompt_id"`
	// ClientID is the WebSocket client identity used for the run.
	ClientID string `json:"client_id" msgpack:"client_id"`
	// State is the terminal state at flush time.
	State RunState `json:"state" msgpack:"state"`
	// Events is the full classified event history in arrival order.
	Events []Event `json:"events" msgpack:"events"`
	// ResultData is the fetched post-completion history payload.
	// Mutually exclusive with Error.
	ResultData map[string]any `json:"result_data,omitempty" msgpack:"result_data,omitempty"`
	// Error is the structured terminal error detail.
	// Mutually exclusive with ResultData.
	Error map[string]any `json:"error,omitempty" msgpack:"error,omitempty"`
	// SavedAt is the flush timestamp in ISO 8601 UTC format.
	SavedAt string `json:"saved_at" msgpack:"saved_at"`
	// DurationMs is the observed run duration up to flush.
	DurationMs int64 `json:"duration_ms" msgpack:"duration_ms"`
	// EventCount is len(Events), denormalized for cheap inspection.
	EventCount int64 `json:"event_count" msgpack:"event_count"`
}
