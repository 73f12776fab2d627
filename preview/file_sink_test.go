package preview

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSink_WritesLatestFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.jpg")
	sink := NewFileSink(path)

	want := []byte("frame-bytes")
	sink.Show(&Frame{Data: want, Format: "jpeg"})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read preview file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("preview file = %q, want %q", got, want)
	}
	if sink.Shown() != 1 {
		t.Errorf("Shown() = %d, want 1", sink.Shown())
	}
}

func TestFileSink_ShowNeverBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.jpg")
	sink := NewFileSink(path)

	// Flood the sink far faster than the writer can keep up. Show must
	// return promptly every time; intermediate frames may be dropped.
	for i := 0; i < 1000; i++ {
		sink.Show(&Frame{Data: []byte{byte(i)}, Format: "jpeg"})
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("preview file missing: %v", err)
	}
}

func TestFileSink_NilFrameIgnored(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "preview.jpg"))
	sink.Show(nil)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.Shown() != 0 {
		t.Errorf("Shown() = %d, want 0", sink.Shown())
	}
}
