package metrics

import (
	"sync"
	"testing"
)

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	c.FrameAssembled()
	c.FragmentDropped()
	c.DecodeFailure()
	c.EventRecorded()
	c.SaveFailure()

	snap := c.Snapshot()
	if snap != (Snapshot{}) {
		t.Errorf("nil collector snapshot = %+v, want zero", snap)
	}
}

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.FrameAssembled()
	c.FrameAssembled()
	c.FragmentDropped()
	c.EventRecorded()
	c.EventRecorded()
	c.EventRecorded()
	c.EventUnhandled()
	c.SaveSuccess()

	snap := c.Snapshot()
	if snap.FramesAssembled != 2 {
		t.Errorf("FramesAssembled = %d, want 2", snap.FramesAssembled)
	}
	if snap.FragmentsDropped != 1 {
		t.Errorf("FragmentsDropped = %d, want 1", snap.FragmentsDropped)
	}
	if snap.EventsRecorded != 3 {
		t.Errorf("EventsRecorded = %d, want 3", snap.EventsRecorded)
	}
	if snap.EventsUnhandled != 1 {
		t.Errorf("EventsUnhandled = %d, want 1", snap.EventsUnhandled)
	}
	if snap.SaveSuccesses != 1 {
		t.Errorf("SaveSuccesses = %d, want 1", snap.SaveSuccesses)
	}
}

func TestCollector_SnapshotIsDetached(t *testing.T) {
	c := NewCollector()
	c.EventRecorded()

	snap := c.Snapshot()
	c.EventRecorded()

	if snap.EventsRecorded != 1 {
		t.Errorf("snapshot changed after the fact: %d", snap.EventsRecorded)
	}
}

func TestCollector_ConcurrentIncrement(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.EventRecorded()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().EventsRecorded; got != 5000 {
		t.Errorf("EventsRecorded = %d, want 5000", got)
	}
}
