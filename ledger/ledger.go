// Package ledger maintains the append-only execution record for one run.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// ErrTerminalState is returned when a terminal transition is attempted after
// one has already been set. The first terminal transition wins.
var ErrTerminalState = errors.New("terminal state already set")

// Ledger is the in-memory execution record for one tracked run.
//
// Events append in arrival order and are never removed. The terminal state
// transitions pending -> succeeded|failed exactly once; result data and error
// detail are mutually exclusive. All methods are safe for concurrent use
// (the message path and the interrupt path may both touch the ledger), and
// no method leaves it in a half-updated state, so a snapshot taken at any
// moment is flushable.
type Ledger struct {
	mu        sync.Mutex
	clientID  string
	promptID  string
	events    []types.Event
	result    map[string]any
	errDetail map[string]any
	state     types.RunState
	flushed   bool
	started   time.Time
	now       func() time.Time
}

// New creates a pending ledger for the given client identity.
func New(clientID string) *Ledger {
	l := &Ledger{
		clientID: clientID,
		state:    types.StatePending,
		now:      time.Now,
	}
	l.started = l.now()
	return l
}

// WithClock returns the ledger with a replacement time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.started = now()
	return l
}

// SetPromptID binds the tracked prompt identity. First value wins; the
// engine announces the prompt id once at execution start.
func (l *Ledger) SetPromptID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.promptID == "" {
		l.promptID = id
	}
}

// PromptID returns the tracked prompt identity, empty if not yet known.
func (l *Ledger) PromptID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.promptID
}

// Record appends a classified event. Always succeeds; events arriving after
// a flush are still accepted into memory (the flushed snapshot is historical
// and never rewritten).
func (l *Ledger) Record(ev *types.Event) {
	if ev == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *ev)
}

// SetResult transitions the ledger to succeeded with the fetched result
// payload. Returns ErrTerminalState if a terminal state is already set.
func (l *Ledger) SetResult(data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != types.StatePending {
		return fmt.Errorf("cannot set result in state %s: %w", l.state, ErrTerminalState)
	}
	l.state = types.StateSucceeded
	l.result = data
	return nil
}

// SetError transitions the ledger to failed with the structured error
// detail. Returns ErrTerminalState if a terminal state is already set.
func (l *Ledger) SetError(detail map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != types.StatePending {
		return fmt.Errorf("cannot set error in state %s: %w", l.state, ErrTerminalState)
	}
	l.state = types.StateFailed
	l.errDetail = detail
	return nil
}

// State returns the current terminal state.
func (l *Ledger) State() types.RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// EventCount returns the number of recorded events.
func (l *Ledger) EventCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events))
}

// MarkFlushed marks the ledger as flushed to persistence.
func (l *Ledger) MarkFlushed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushed = true
}

// Flushed returns true once the ledger has been flushed.
func (l *Ledger) Flushed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushed
}

// Snapshot produces an immutable copy of the record for persistence.
// The snapshot shares nothing mutable with the ledger; recording may
// continue while the snapshot is being written out.
func (l *Ledger) Snapshot() *types.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := &types.Record{
		SchemaVersion: types.Version,
		PromptID:      l.promptID,
		ClientID:      l.clientID,
		State:         l.state,
		Events:        append([]types.Event(nil), l.events...),
		ResultData:    copyMap(l.result),
		Error:         copyMap(l.errDetail),
		SavedAt:       now.UTC().Format(time.RFC3339Nano),
		DurationMs:    now.Sub(l.started).Milliseconds(),
		EventCount:    int64(len(l.events)),
	}
	return rec
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
