// Package adapter defines the downstream notification boundary.
//
// Adapters announce that a run's record has been flushed so other systems
// (galleries, queue managers, alerting) can react without polling the
// record file. The monitor owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"

	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// RecordSavedEvent is the payload published after the record is flushed.
type RecordSavedEvent struct {
	SchemaVersion string `json:"schema_version"`
	EventType     string `json:"event_type"` // always "record_saved"
	PromptID      string `json:"prompt_id"`
	ClientID      string `json:"client_id"`
	State         string `json:"state"` // pending, succeeded, failed
	Source        string `json:"source,omitempty"`
	StoragePath   string `json:"storage_path,omitempty"`
	SavedAt       string `json:"saved_at"` // ISO 8601
	EventCount    int64  `json:"event_count"`
	DurationMs    int64  `json:"duration_ms"`
}

// FromRecord builds the notification payload for a flushed record.
// storagePath is where the record landed; source labels the monitored
// engine instance. Either may be empty.
func FromRecord(rec *types.Record, source, storagePath string) *RecordSavedEvent {
	return &RecordSavedEvent{
		SchemaVersion: rec.SchemaVersion,
		EventType:     "record_saved",
		PromptID:      rec.PromptID,
		ClientID:      rec.ClientID,
		State:         string(rec.State),
		Source:        source,
		StoragePath:   storagePath,
		SavedAt:       rec.SavedAt,
		EventCount:    rec.EventCount,
		DurationMs:    rec.DurationMs,
	}
}

// Adapter publishes record-saved events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a record-saved event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RecordSavedEvent) error

	// Close releases adapter resources.
	Close() error
}
