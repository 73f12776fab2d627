package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rndnanthu/Comfyui-Livepreview/ledger"
	"github.com/rndnanthu/Comfyui-Livepreview/metrics"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

type closeRecorder struct {
	mu     sync.Mutex
	closed int
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func TestCoordinator_ConcurrentShutdownFlushesOnce(t *testing.T) {
	led := ledger.New("client-1")
	saver := &stubSaver{}
	coord := NewCoordinator(led, saver, testLogger(t), CoordinatorOptions{})

	var wg sync.WaitGroup
	reasons := []ShutdownReason{ReasonTerminal, ReasonInterrupt, ReasonTransportClosed, ReasonInterrupt}
	for _, reason := range reasons {
		wg.Add(1)
		go func(r ShutdownReason) {
			defer wg.Done()
			coord.RequestShutdown(context.Background(), r)
		}(reason)
	}
	wg.Wait()
	<-coord.Done()

	if got := len(saver.saved()); got != 1 {
		t.Errorf("Save called %d times, want 1", got)
	}
	if !led.Flushed() {
		t.Error("ledger not marked flushed")
	}
}

func TestCoordinator_ClosersClosedAfterFlush(t *testing.T) {
	led := ledger.New("client-1")
	saver := &stubSaver{}
	rec := &closeRecorder{}
	coord := NewCoordinator(led, saver, testLogger(t), CoordinatorOptions{
		Closers: []io.Closer{rec},
	})

	coord.RequestShutdown(context.Background(), ReasonTerminal)
	coord.RequestShutdown(context.Background(), ReasonTerminal)
	<-coord.Done()

	if rec.closed != 1 {
		t.Errorf("closer closed %d times, want 1", rec.closed)
	}
}

func TestCoordinator_SaveFailureIsSurfacedNotFatal(t *testing.T) {
	led := ledger.New("client-1")
	saveErr := errors.New("disk full")
	saver := &stubSaver{err: saveErr}
	collector := metrics.NewCollector()
	coord := NewCoordinator(led, saver, testLogger(t), CoordinatorOptions{
		Collector: collector,
	})

	coord.RequestShutdown(context.Background(), ReasonTerminal)
	<-coord.Done()

	if !errors.Is(coord.SaveErr(), saveErr) {
		t.Errorf("SaveErr = %v, want %v", coord.SaveErr(), saveErr)
	}
	if led.Flushed() {
		t.Error("failed flush must not mark the ledger flushed")
	}
	if got := collector.Snapshot().SaveFailures; got != 1 {
		t.Errorf("SaveFailures = %d, want 1", got)
	}
}

func TestCoordinator_FlushSurvivesCanceledContext(t *testing.T) {
	led := ledger.New("client-1")
	led.Record(&types.Event{Kind: types.KindStarted, Seq: 1})
	saver := &stubSaver{}
	coord := NewCoordinator(led, saver, testLogger(t), CoordinatorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord.RequestShutdown(ctx, ReasonInterrupt)
	<-coord.Done()

	if got := len(saver.saved()); got != 1 {
		t.Errorf("Save called %d times with canceled context, want 1", got)
	}
}
