// Package engine correlates the two message streams of a tracked run:
// binary preview fragments and JSON control events. The dispatcher routes
// each incoming message to the reassembler or the classifier, updates the
// ledger, and asks the coordinator to shut down when the run reaches a
// terminal state. The coordinator guarantees the record is flushed exactly
// once regardless of how the run ends.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rndnanthu/Comfyui-Livepreview/classify"
	"github.com/rndnanthu/Comfyui-Livepreview/ledger"
	"github.com/rndnanthu/Comfyui-Livepreview/log"
	"github.com/rndnanthu/Comfyui-Livepreview/metrics"
	"github.com/rndnanthu/Comfyui-Livepreview/preview"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
	"github.com/rndnanthu/Comfyui-Livepreview/wire"
)

// DefaultFetchTimeout bounds the post-success history fetch.
const DefaultFetchTimeout = 10 * time.Second

// Dispatcher routes raw messages from the push channel.
//
// OnMessage is called from a single reader goroutine, so fragment
// reassembly and event sequencing see messages in arrival order. Per-message
// failures (short header, undecodable frame, malformed JSON) are absorbed:
// the monitor outlives any single bad message.
type Dispatcher struct {
	reassembler *preview.Reassembler
	classifier  *classify.Classifier
	ledger      *ledger.Ledger
	sink        Sink
	fetcher     ResultFetcher
	coord       *Coordinator

	logger       *log.Logger
	collector    *metrics.Collector
	fetchTimeout time.Duration
}

// DispatcherOptions configures optional dispatcher collaborators.
type DispatcherOptions struct {
	// Sink receives assembled frames. Defaults to NopSink.
	Sink Sink
	// Fetcher retrieves the result manifest on success. Optional; when nil
	// the record is saved with no result data.
	Fetcher ResultFetcher
	// Collector receives observability counters. Nil disables metrics.
	Collector *metrics.Collector
	// FetchTimeout bounds the post-success history fetch.
	// Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// NewDispatcher creates a dispatcher bound to one run's ledger and
// shutdown coordinator.
func NewDispatcher(
	led *ledger.Ledger,
	coord *Coordinator,
	classifier *classify.Classifier,
	logger *log.Logger,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Dispatcher{
		reassembler:  preview.NewReassembler(),
		classifier:   classifier,
		ledger:       led,
		sink:         opts.Sink,
		fetcher:      opts.Fetcher,
		coord:        coord,
		logger:       logger,
		collector:    opts.Collector,
		fetchTimeout: opts.FetchTimeout,
	}
}

// OnMessage processes one raw message from the push channel.
// It never returns an error for malformed input; the returned error is
// reserved for future fatal conditions and is currently always nil.
func (d *Dispatcher) OnMessage(ctx context.Context, msg types.RawMessage) error {
	switch msg.Kind {
	case types.MessageBinary:
		d.onBinary(msg.Data)
	case types.MessageText:
		d.onText(ctx, msg.Data)
	}
	return nil
}

func (d *Dispatcher) onBinary(data []byte) {
	frag, err := wire.ParseEnvelope(data)
	if err != nil {
		d.collector.FragmentDropped()
		d.logger.Warn("dropping malformed binary message", map[string]any{
			"error": err.Error(),
			"bytes": len(data),
		})
		return
	}
	if !frag.IsPreview() {
		// Unknown event types are reserved for future channel features;
		// they carry no frame data we can interpret.
		d.collector.FragmentDropped()
		return
	}

	frame, err := d.reassembler.Feed(frag)
	if err != nil {
		d.collector.DecodeFailure()
		d.logger.Warn("preview frame decode failed", map[string]any{
			"error": err.Error(),
		})
		// The reassembler already reset the affected frame; the stream
		// recovers at the next start marker.
	}
	if frame == nil {
		return
	}

	d.collector.FrameAssembled()
	if err := d.sink.Show(frame); err != nil {
		d.logger.Warn("preview sink rejected frame", map[string]any{
			"error": err.Error(),
		})
	}
}

func (d *Dispatcher) onText(ctx context.Context, data []byte) {
	ev, err := d.classifier.Classify(data)
	if err != nil {
		d.collector.ClassifyFailure()
		d.logger.Warn("dropping unclassifiable control message", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if ev == nil {
		// Telemetry on the ignore list.
		return
	}

	d.ledger.Record(ev)
	d.collector.EventRecorded()
	if ev.Kind == types.KindUnhandled {
		d.collector.EventUnhandled()
		d.logger.Debug("recorded unhandled event", map[string]any{
			"type": ev.Payload["type"],
			"seq":  ev.Seq,
		})
	}

	switch ev.Kind {
	case types.KindStarted:
		if id, ok := ev.Payload["prompt_id"].(string); ok && id != "" {
			d.ledger.SetPromptID(id)
			d.logger.Info("execution started", map[string]any{
				"prompt_id": id,
			})
		}
	case types.KindSucceeded:
		d.onSucceeded(ctx)
	case types.KindFailed:
		d.onFailed(ctx, ev)
	}
}

// onSucceeded records the success transition and requests shutdown. The
// result fetch is best effort: a run that finished but whose outputs cannot
// be listed is still a successful run.
func (d *Dispatcher) onSucceeded(ctx context.Context) {
	var resultData map[string]any
	if promptID := d.ledger.PromptID(); d.fetcher != nil && promptID != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
		defer cancel()

		data, err := d.fetcher.FetchResult(fetchCtx, promptID)
		if err != nil {
			d.collector.ResultFetchFailure()
			d.logger.Warn("result fetch failed, saving record without outputs", map[string]any{
				"prompt_id": promptID,
				"error":     err.Error(),
			})
		} else {
			resultData = data
		}
	}

	if err := d.ledger.SetResult(resultData); err != nil {
		if !errors.Is(err, ledger.ErrTerminalState) {
			d.logger.Error("success transition failed", map[string]any{
				"error": err.Error(),
			})
		}
		return
	}
	d.coord.RequestShutdown(ctx, ReasonTerminal)
}

func (d *Dispatcher) onFailed(ctx context.Context, ev *types.Event) {
	if err := d.ledger.SetError(ev.Payload); err != nil {
		if !errors.Is(err, ledger.ErrTerminalState) {
			d.logger.Error("failure transition failed", map[string]any{
				"error": err.Error(),
			})
		}
		return
	}
	d.logger.Error("execution failed", map[string]any{
		"prompt_id": d.ledger.PromptID(),
		"node_id":   ev.Payload["node_id"],
		"message":   ev.Payload["exception_message"],
	})
	d.coord.RequestShutdown(ctx, ReasonTerminal)
}
