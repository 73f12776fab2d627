// Package archive writes execution records to Hive-partitioned Lode
// storage, one row per classified event plus a run summary row. Unlike the
// single-file saver, the archive accumulates runs over time and stays
// queryable by source, day, and prompt.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/rndnanthu/Comfyui-Livepreview/engine"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// RecordKind discriminator values within the archive dataset.
const (
	RecordKindEvent      = "event"
	RecordKindRunSummary = "run_summary"
)

// DeriveDay computes the partition day from a save timestamp.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(savedAt time.Time) string {
	return savedAt.UTC().Format("2006-01-02")
}

// Config holds archive configuration. Both partition keys are required.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source is the partition key labeling the monitored engine instance.
	Source string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return errors.New("archive dataset is required")
	}
	if c.Source == "" {
		return errors.New("archive source is required")
	}
	return nil
}

// Archiver persists execution records into a Lode dataset.
type Archiver struct {
	dataset lode.Dataset
	config  Config
}

// NewArchiver creates an archiver with filesystem storage rooted at root.
func NewArchiver(cfg Config, root string) (*Archiver, error) {
	return NewArchiverWithFactory(cfg, lode.NewFSFactory(root))
}

// NewArchiverWithFactory creates an archiver with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchiverWithFactory(cfg Config, factory lode.StoreFactory) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("source", "day", "prompt_id", "record_kind"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, err
	}

	return &Archiver{dataset: ds, config: cfg}, nil
}

// Save writes one row per ledger event followed by a run summary row.
// Rows carry the partition keys expected by the Hive layout.
func (a *Archiver) Save(ctx context.Context, rec *types.Record) error {
	day := deriveDayFromRecord(rec)
	promptID := rec.PromptID
	if promptID == "" {
		// Interrupted before the engine announced a prompt id; partition
		// under the client id so the rows remain addressable.
		promptID = "unknown-" + rec.ClientID
	}

	rows := make([]any, 0, len(rec.Events)+1)
	for _, ev := range rec.Events {
		rows = append(rows, map[string]any{
			"record_kind": RecordKindEvent,
			"kind":        string(ev.Kind),
			"seq":         ev.Seq,
			"ts":          ev.Ts,
			"payload":     ev.Payload,
			"source":      a.config.Source,
			"day":         day,
			"prompt_id":   promptID,
		})
	}
	rows = append(rows, map[string]any{
		"record_kind":    RecordKindRunSummary,
		"schema_version": rec.SchemaVersion,
		"client_id":      rec.ClientID,
		"state":          string(rec.State),
		"result_data":    rec.ResultData,
		"error":          rec.Error,
		"saved_at":       rec.SavedAt,
		"duration_ms":    rec.DurationMs,
		"event_count":    rec.EventCount,
		"source":         a.config.Source,
		"day":            day,
		"prompt_id":      promptID,
	})

	_, err := a.dataset.Write(ctx, rows, lode.Metadata{})
	return err
}

// Close releases archiver resources.
func (a *Archiver) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

func deriveDayFromRecord(rec *types.Record) string {
	if ts, err := time.Parse(time.RFC3339Nano, rec.SavedAt); err == nil {
		return DeriveDay(ts)
	}
	return DeriveDay(time.Now())
}

// Verify Archiver satisfies the flush contract.
var _ engine.Saver = (*Archiver)(nil)
