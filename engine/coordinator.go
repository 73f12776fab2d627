package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rndnanthu/Comfyui-Livepreview/ledger"
	"github.com/rndnanthu/Comfyui-Livepreview/log"
	"github.com/rndnanthu/Comfyui-Livepreview/metrics"
)

// ShutdownReason identifies what ended the run.
type ShutdownReason string

const (
	// ReasonTerminal indicates the engine announced success or failure.
	ReasonTerminal ShutdownReason = "terminal"
	// ReasonInterrupt indicates the operator interrupted the monitor.
	ReasonInterrupt ShutdownReason = "interrupt"
	// ReasonTransportClosed indicates the push channel closed unexpectedly.
	ReasonTransportClosed ShutdownReason = "transport_closed"
)

// DefaultFlushTimeout bounds the final record flush.
const DefaultFlushTimeout = 30 * time.Second

// Coordinator guarantees the execution record is flushed exactly once.
//
// Multiple paths race to end a run: the terminal event on the message
// goroutine, SIGINT on the signal goroutine, and the transport reader
// noticing a closed connection. Whichever arrives first performs the flush;
// the rest are no-ops. The flush itself is best effort: a failing saver is
// logged and counted, never propagated as a crash.
type Coordinator struct {
	once sync.Once
	done chan struct{}

	ledger  *ledger.Ledger
	saver   Saver
	closers []io.Closer

	logger       *log.Logger
	collector    *metrics.Collector
	flushTimeout time.Duration

	mu      sync.Mutex
	reason  ShutdownReason
	saveErr error
}

// CoordinatorOptions configures optional coordinator behavior.
type CoordinatorOptions struct {
	// Closers are closed, in order, after the flush completes. Use for the
	// transport socket, preview sink, and downstream adapters.
	Closers []io.Closer
	// Collector receives observability counters. Nil disables metrics.
	Collector *metrics.Collector
	// FlushTimeout bounds the final record flush.
	// Defaults to DefaultFlushTimeout.
	FlushTimeout time.Duration
}

// NewCoordinator creates a coordinator for one run.
func NewCoordinator(led *ledger.Ledger, saver Saver, logger *log.Logger, opts CoordinatorOptions) *Coordinator {
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	return &Coordinator{
		done:         make(chan struct{}),
		ledger:       led,
		saver:        saver,
		closers:      opts.Closers,
		logger:       logger,
		collector:    opts.Collector,
		flushTimeout: opts.FlushTimeout,
	}
}

// RequestShutdown ends the run for the given reason. The first call flushes
// the record and closes the registered resources; later calls return
// immediately. Safe to call from any goroutine.
//
// The flush survives cancellation of ctx: an interrupt cancels the run
// context, but the record must still reach persistence.
func (c *Coordinator) RequestShutdown(ctx context.Context, reason ShutdownReason) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()

		c.logger.Info("shutting down", map[string]any{
			"reason": string(reason),
			"state":  string(c.ledger.State()),
			"events": c.ledger.EventCount(),
		})

		c.flush(ctx)

		for _, closer := range c.closers {
			if err := closer.Close(); err != nil {
				c.logger.Warn("close failed during shutdown", map[string]any{
					"error": err.Error(),
				})
			}
		}
		close(c.done)
	})
}

// flush snapshots the ledger and hands the record to the saver. Detached
// from the caller's cancellation so an interrupted run still persists.
func (c *Coordinator) flush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flushTimeout)
	defer cancel()

	rec := c.ledger.Snapshot()
	if err := c.saver.Save(flushCtx, rec); err != nil {
		c.collector.SaveFailure()
		c.mu.Lock()
		c.saveErr = err
		c.mu.Unlock()
		c.logger.Error("record flush failed", map[string]any{
			"prompt_id": rec.PromptID,
			"error":     err.Error(),
		})
		return
	}

	c.ledger.MarkFlushed()
	c.collector.SaveSuccess()
	c.logger.Info("record flushed", map[string]any{
		"prompt_id":   rec.PromptID,
		"state":       string(rec.State),
		"event_count": rec.EventCount,
		"duration_ms": rec.DurationMs,
	})
}

// Done returns a channel closed once shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Reason returns what ended the run, empty before shutdown.
func (c *Coordinator) Reason() ShutdownReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// SaveErr returns the flush error, nil if the flush succeeded or has not
// happened yet.
func (c *Coordinator) SaveErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveErr
}
