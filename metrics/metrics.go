// Package metrics provides in-process counters for monitor observability.
package metrics

import "sync"

// Collector tracks monitor counters. All methods are nil-safe: a nil
// *Collector is a valid no-op collector, so callers never guard call sites.
type Collector struct {
	mu sync.Mutex

	framesAssembled  int64
	fragmentsDropped int64
	decodeFailures   int64

	eventsRecorded   int64
	eventsUnhandled  int64
	classifyFailures int64

	resultFetchFailures int64
	saveSuccesses       int64
	saveFailures        int64
	adapterFailures     int64
}

// Snapshot is an immutable view of the collector counters.
type Snapshot struct {
	FramesAssembled  int64 `json:"frames_assembled"`
	FragmentsDropped int64 `json:"fragments_dropped"`
	DecodeFailures   int64 `json:"decode_failures"`

	EventsRecorded   int64 `json:"events_recorded"`
	EventsUnhandled  int64 `json:"events_unhandled"`
	ClassifyFailures int64 `json:"classify_failures"`

	ResultFetchFailures int64 `json:"result_fetch_failures"`
	SaveSuccesses       int64 `json:"save_successes"`
	SaveFailures        int64 `json:"save_failures"`
	AdapterFailures     int64 `json:"adapter_failures"`
}

// NewCollector creates a zeroed collector.
func NewCollector() *Collector { return &Collector{} }

// FrameAssembled counts a complete preview frame handed to the sink.
func (c *Collector) FrameAssembled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesAssembled++
}

// FragmentDropped counts a binary message discarded before reassembly
// (short header, unknown event type).
func (c *Collector) FragmentDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fragmentsDropped++
}

// DecodeFailure counts an assembled byte span that failed image decoding.
func (c *Collector) DecodeFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodeFailures++
}

// EventRecorded counts a classified event appended to the ledger.
func (c *Collector) EventRecorded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsRecorded++
}

// EventUnhandled counts an event recorded with an unknown discriminant.
func (c *Collector) EventUnhandled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsUnhandled++
}

// ClassifyFailure counts a text message that could not be classified.
func (c *Collector) ClassifyFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classifyFailures++
}

// ResultFetchFailure counts a failed history fetch after success.
func (c *Collector) ResultFetchFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultFetchFailures++
}

// SaveSuccess counts a record flushed to persistence.
func (c *Collector) SaveSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveSuccesses++
}

// SaveFailure counts a failed record flush.
func (c *Collector) SaveFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveFailures++
}

// AdapterFailure counts a downstream notification that exhausted retries.
func (c *Collector) AdapterFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapterFailures++
}

// Snapshot returns a point-in-time copy of all counters.
// A nil collector snapshots to zero values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		FramesAssembled:     c.framesAssembled,
		FragmentsDropped:    c.fragmentsDropped,
		DecodeFailures:      c.decodeFailures,
		EventsRecorded:      c.eventsRecorded,
		EventsUnhandled:     c.eventsUnhandled,
		ClassifyFailures:    c.classifyFailures,
		ResultFetchFailures: c.resultFetchFailures,
		SaveSuccesses:       c.saveSuccesses,
		SaveFailures:        c.saveFailures,
		AdapterFailures:     c.adapterFailures,
	}
}
