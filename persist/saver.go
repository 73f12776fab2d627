// Package persist writes the final execution record to durable storage.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rndnanthu/Comfyui-Livepreview/engine"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// Record encodings supported by FileSaver.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// FileSaver writes the record to a single file, replacing any previous
// content atomically (write to a temp file, then rename).
type FileSaver struct {
	path   string
	format string
}

// NewFileSaver creates a saver writing to path in the given format.
func NewFileSaver(path, format string) (*FileSaver, error) {
	if path == "" {
		return nil, errors.New("file saver requires a path")
	}
	switch format {
	case FormatJSON, FormatMsgpack:
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}
	return &FileSaver{path: path, format: format}, nil
}

// Save encodes and writes the record. A crash mid-write never leaves a
// truncated record at the destination path.
func (s *FileSaver) Save(_ context.Context, rec *types.Record) error {
	var (
		data []byte
		err  error
	)
	switch s.format {
	case FormatJSON:
		data, err = json.MarshalIndent(rec, "", "  ")
	case FormatMsgpack:
		data, err = msgpack.Marshal(rec)
	}
	if err != nil {
		return fmt.Errorf("persist: encode record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: replace %s: %w", s.path, err)
	}
	return nil
}

// Path returns the destination path.
func (s *FileSaver) Path() string { return s.path }

// StubSaver accumulates records in memory. Used in tests and dry runs.
type StubSaver struct {
	mu      sync.Mutex
	records []*types.Record
	err     error
}

// NewStubSaver creates an empty stub saver.
func NewStubSaver() *StubSaver { return &StubSaver{} }

// FailWith makes subsequent Save calls return err.
func (s *StubSaver) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Save appends the record, or returns the configured error.
func (s *StubSaver) Save(_ context.Context, rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of all saved records.
func (s *StubSaver) Records() []*types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Record(nil), s.records...)
}

// MultiSaver fans the record out to several savers. Every saver is
// attempted even if an earlier one fails; failures are joined.
type MultiSaver []engine.Saver

// Save writes the record through each saver in order.
func (m MultiSaver) Save(ctx context.Context, rec *types.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadRecord loads a record previously written by FileSaver, detecting the
// encoding from the requested format. Used by the inspect command.
func ReadRecord(path, format string) (*types.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: read record: %w", err)
	}

	var rec types.Record
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &rec)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &rec)
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("persist: decode record: %w", err)
	}
	return &rec, nil
}

var (
	_ engine.Saver = (*FileSaver)(nil)
	_ engine.Saver = (*StubSaver)(nil)
	_ engine.Saver = MultiSaver(nil)
)
