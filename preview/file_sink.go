package preview

import (
	"os"
	"sync"
)

// FileSink writes the most recent frame to a file on disk.
//
// Show never blocks the caller: frames pass through a single-slot buffer and
// a slow disk simply misses intermediate frames (most-recent-frame-wins).
type FileSink struct {
	path   string
	frames chan *Frame
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastErr error
	shown   int64
}

// NewFileSink creates a sink writing frames to path and starts its writer.
func NewFileSink(path string) *FileSink {
	s := &FileSink{
		path:   path,
		frames: make(chan *Frame, 1),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Show hands a frame to the sink. Never blocks: if the writer is behind, the
// pending frame is replaced by this one. The returned error is the last
// write failure observed, if any; writing itself is asynchronous.
func (s *FileSink) Show(frame *Frame) error {
	if frame == nil {
		return nil
	}
	for {
		select {
		case s.frames <- frame:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.lastErr
		default:
		}
		// Slot full: evict the stale frame and retry once.
		select {
		case <-s.frames:
		default:
		}
	}
}

// Close stops the writer after draining the pending frame, if any.
// Returns the last write error observed.
func (s *FileSink) Close() error {
	close(s.frames)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Shown returns the number of frames written so far.
func (s *FileSink) Shown() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

func (s *FileSink) writeLoop() {
	defer s.wg.Done()
	for frame := range s.frames {
		err := os.WriteFile(s.path, frame.Data, 0o644)

		s.mu.Lock()
		if err != nil {
			s.lastErr = err
		} else {
			s.shown++
		}
		s.mu.Unlock()
	}
}
