// Package wire implements parsing of the engine's binary WebSocket envelope.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Binary envelope layout: a fixed 8-byte header followed by raw payload bytes.
// Both header fields are big-endian uint32, matching the upstream engine.
const (
	// HeaderSize is the fixed envelope header size in bytes.
	HeaderSize = 8
)

// Binary event types (first header field).
const (
	// BinaryPreviewImage carries preview image data for the running prompt.
	BinaryPreviewImage uint32 = 1
)

// Image formats (second header field, meaningful for BinaryPreviewImage).
const (
	// FormatJPEG is a fragment of a JPEG preview stream. Frames may span
	// multiple envelopes and are reassembled by the preview package.
	FormatJPEG uint32 = 1
	// FormatPNG is a complete single-shot PNG image in one envelope.
	FormatPNG uint32 = 2
)

// Fragment is one parsed binary payload.
// Ownership passes to the reassembler until a frame is emitted or the
// fragment is discarded as unrecognized.
type Fragment struct {
	// EventType is the binary event type from the header.
	EventType uint32
	// Format is the image format field from the header.
	Format uint32
	// Payload is the raw image bytes after the header.
	Payload []byte
}

// IsPreview returns true if the fragment carries preview image data.
func (f *Fragment) IsPreview() bool {
	return f.EventType == BinaryPreviewImage
}

// EnvelopeError reports a malformed binary envelope.
// Envelope errors are recoverable: the dispatcher drops the message and
// continues with the next one.
type EnvelopeError struct {
	Msg string
}

func (e *EnvelopeError) Error() string {
	return e.Msg
}

// ParseEnvelope parses a binary message into a Fragment.
// Returns an *EnvelopeError if the message is shorter than the fixed header.
// Unknown event types and formats parse successfully; classification of
// recognized kinds is the reassembler's concern.
func ParseEnvelope(data []byte) (*Fragment, error) {
	if len(data) < HeaderSize {
		return nil, &EnvelopeError{
			Msg: fmt.Sprintf("binary message too short: %d bytes, need %d", len(data), HeaderSize),
		}
	}

	return &Fragment{
		EventType: binary.BigEndian.Uint32(data[0:4]),
		Format:    binary.BigEndian.Uint32(data[4:8]),
		Payload:   data[HeaderSize:],
	}, nil
}
