// Package preview reassembles fragmented preview images from binary fragments.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/rndnanthu/Comfyui-Livepreview/wire"
)

// MaxBufferSize caps the in-progress frame buffer (32 MiB).
// A buffer past this size means the stream never produced an end marker;
// the reassembler resets rather than growing without bound.
const MaxBufferSize = 32 * 1024 * 1024

// JPEG stream markers.
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Frame is one complete decoded preview image.
type Frame struct {
	// Image is the decoded image.
	Image image.Image
	// Data is the encoded byte sequence the image was decoded from.
	Data []byte
	// Format is the encoding name ("jpeg" or "png").
	Format string
}

// Bounds returns the pixel dimensions of the frame.
func (f *Frame) Bounds() (width, height int) {
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// DecodeError reports a frame that reassembled fully but failed to decode.
// Decode errors are recoverable: the frame is discarded, the buffer state is
// consistent, and the stream continues.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s frame: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reassembler accumulates binary fragments into complete decodable images.
//
// Fragments must be fed in transport arrival order; reassembly is undefined
// otherwise. There is at most one frame under assembly at a time: a single
// buffer, not a queue of partials. Frame completion is detected by the JPEG
// end-of-image marker, or by a new start-of-image fragment arriving while a
// frame is already buffered (the buffered bytes are finalized first).
type Reassembler struct {
	buf []byte
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed consumes one fragment and returns a completed frame, if any.
//
// Returns (nil, nil) when the fragment is unrecognized (dropped silently) or
// when more fragments are needed. Returns (nil, *DecodeError) when a fully
// reassembled frame fails to decode; the buffer is consistent afterwards and
// subsequent fragments continue a new frame.
func (r *Reassembler) Feed(frag *wire.Fragment) (*Frame, error) {
	if frag == nil || !frag.IsPreview() {
		return nil, nil
	}

	switch frag.Format {
	case wire.FormatPNG:
		// Single-shot image, never fragmented. Bypasses the buffer.
		return decodeFrame(frag.Payload, "png")

	case wire.FormatJPEG:
		return r.feedJPEG(frag.Payload)

	default:
		// Unknown image format: drop, leave buffer untouched.
		return nil, nil
	}
}

// Reset discards any in-progress frame.
func (r *Reassembler) Reset() {
	r.buf = nil
}

// Buffered returns the number of in-progress frame bytes.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// feedJPEG appends a JPEG fragment and extracts a frame when complete.
func (r *Reassembler) feedJPEG(payload []byte) (*Frame, error) {
	// A fresh start-of-image while a frame is already open means the
	// previous frame ended without an end marker: finalize the buffered
	// bytes first and start the new frame from this fragment.
	var (
		finalized   *Frame
		finalizeErr error
	)
	if len(r.buf) > 0 && bytes.HasPrefix(payload, jpegSOI) && bytes.Contains(r.buf, jpegSOI) {
		finalized, finalizeErr = decodeFrame(r.buf, "jpeg")
		r.buf = nil
	}

	r.buf = append(r.buf, payload...)

	if len(r.buf) > MaxBufferSize {
		r.buf = nil
		return nil, &DecodeError{
			Format: "jpeg",
			Err:    fmt.Errorf("frame buffer exceeded %d bytes without end marker", MaxBufferSize),
		}
	}

	if finalized != nil {
		// At most one frame per Feed; the new fragment stays buffered
		// and completes on a later end marker or restart.
		return finalized, nil
	}

	// Extract the first complete SOI..EOI span; the remainder stays
	// buffered as the start of the next frame.
	start := bytes.Index(r.buf, jpegSOI)
	if start == -1 {
		return nil, finalizeErr
	}
	end := bytes.Index(r.buf[start:], jpegEOI)
	if end == -1 {
		return nil, finalizeErr
	}
	end += start + len(jpegEOI)

	frameData := append([]byte(nil), r.buf[start:end]...)
	rest := r.buf[end:]
	if len(rest) == 0 {
		r.buf = nil
	} else {
		r.buf = append([]byte(nil), rest...)
	}

	return decodeFrame(frameData, "jpeg")
}

// decodeFrame decodes a complete byte sequence into a Frame.
func decodeFrame(data []byte, format string) (*Frame, error) {
	var (
		img image.Image
		err error
	)
	switch format {
	case "png":
		img, err = png.Decode(bytes.NewReader(data))
	default:
		img, err = jpeg.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	return &Frame{
		Image:  img,
		Data:   data,
		Format: format,
	}, nil
}
