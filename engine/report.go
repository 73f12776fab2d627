package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rndnanthu/Comfyui-Livepreview/metrics"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// RunReport is the structured JSON report written by --report.
// All fields use json tags matching the documented contract.
type RunReport struct {
	PromptID   string         `json:"prompt_id"`
	ClientID   string         `json:"client_id"`
	Source     string         `json:"source,omitempty"`
	State      types.RunState `json:"state"`
	Reason     string         `json:"shutdown_reason"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	EventCount int64          `json:"event_count"`
	RecordPath string         `json:"record_path"`
	Flushed    bool           `json:"flushed"`

	Metrics *metrics.Snapshot `json:"metrics"`

	ErrorSummary map[string]any `json:"error_summary,omitempty"`
	FlushError   string         `json:"flush_error,omitempty"`
}

// BuildRunReport composes a RunReport from the flushed record, the
// coordinator outcome, and a metrics snapshot. The exitCode is the process
// exit code that will be returned to the caller.
func BuildRunReport(rec *types.Record, coord *Coordinator, snap metrics.Snapshot, source, recordPath string, exitCode int) *RunReport {
	report := &RunReport{
		PromptID:     rec.PromptID,
		ClientID:     rec.ClientID,
		Source:       source,
		State:        rec.State,
		Reason:       string(coord.Reason()),
		ExitCode:     exitCode,
		DurationMs:   rec.DurationMs,
		EventCount:   rec.EventCount,
		RecordPath:   recordPath,
		Flushed:      coord.SaveErr() == nil,
		Metrics:      &snap,
		ErrorSummary: rec.Error,
	}

	if err := coord.SaveErr(); err != nil {
		report.FlushError = err.Error()
	}

	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		return writeRunReportTo(report, os.Stderr)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer (for testing).
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
