package engine

import (
	"context"

	"github.com/rndnanthu/Comfyui-Livepreview/preview"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// Sink receives assembled preview frames. Implementations must tolerate
// bursts: the dispatcher calls Show on the message path and a slow sink
// must not stall it. Dropping stale frames is the expected strategy:
// previews are ephemeral and only the most recent one matters.
type Sink interface {
	Show(frame *preview.Frame) error
}

// NopSink discards frames. Used when no display surface is configured.
type NopSink struct{}

func (NopSink) Show(*preview.Frame) error { return nil }

// MultiSink fans each frame out to several sinks. Every sink sees the
// frame even if an earlier one fails; the first error is returned.
type MultiSink []Sink

func (m MultiSink) Show(frame *preview.Frame) error {
	var firstErr error
	for _, s := range m {
		if err := s.Show(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Saver flushes the final execution record to persistence.
type Saver interface {
	Save(ctx context.Context, rec *types.Record) error
}

// ResultFetcher retrieves the output manifest for a finished prompt.
type ResultFetcher interface {
	FetchResult(ctx context.Context, promptID string) (map[string]any, error)
}
