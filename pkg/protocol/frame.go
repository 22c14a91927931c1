package protocol

import (
	"errors"
	"fmt"
)

// Live frame layout:
//
//	[0]   'L'
//	[1]   version: 1 linear, 2 matrix
//	[2]   width   (version 2 only)
//	[3]   height  (version 2 only)
//	[...] R, G, B per sampled pixel
const (
	LiveMagic         = 'L'
	LiveVersionLinear = 1
	LiveVersionMatrix = 2
)

var (
	// ErrShortBuffer is returned when a frame does not fit its destination.
	ErrShortBuffer = errors.New("protocol: buffer too small for frame")

	// ErrBadFrame is returned for bytes that are not a live frame.
	ErrBadFrame = errors.New("protocol: malformed live frame")
)

// RGB is one sampled pixel on the wire.
type RGB struct {
	R, G, B uint8
}

// FrameHeader is the fixed part of a live frame.
type FrameHeader struct {
	Version uint8
	Width   uint8
	Height  uint8
}

// Size is the encoded header length.
func (h FrameHeader) Size() int {
	if h.Version == LiveVersionMatrix {
		return 4
	}
	return 2
}

// FrameSize returns the exact byte length of a frame with n samples.
func FrameSize(h FrameHeader, n int) int {
	return h.Size() + 3*n
}

// LiveFrame is a decoded live frame.
type LiveFrame struct {
	FrameHeader
	Pixels []RGB
}

// Size returns the encoded length.
func (f *LiveFrame) Size() int {
	return FrameSize(f.FrameHeader, len(f.Pixels))
}

// MarshalTo encodes f into dst and returns the bytes written.
func (f *LiveFrame) MarshalTo(dst []byte) (int, error) {
	w := NewFrameWriter(dst)
	if err := w.WriteHeader(f.FrameHeader); err != nil {
		return 0, err
	}
	for _, p := range f.Pixels {
		if err := w.WritePixel(p.R, p.G, p.B); err != nil {
			return w.Len(), err
		}
	}
	return w.Len(), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f *LiveFrame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, f.Size())
	n, err := f.MarshalTo(buf)
	return buf[:n], err
}

// ParseLiveFrame decodes a live frame.
func ParseLiveFrame(b []byte) (*LiveFrame, error) {
	if len(b) < 2 || b[0] != LiveMagic {
		return nil, ErrBadFrame
	}
	f := &LiveFrame{FrameHeader: FrameHeader{Version: b[1]}}
	switch f.Version {
	case LiveVersionLinear:
	case LiveVersionMatrix:
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: truncated matrix header", ErrBadFrame)
		}
		f.Width, f.Height = b[2], b[3]
	default:
		return nil, fmt.Errorf("%w: version %d", ErrBadFrame, f.Version)
	}
	body := b[f.FrameHeader.Size():]
	if len(body)%3 != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadFrame, len(body)%3)
	}
	f.Pixels = make([]RGB, len(body)/3)
	for i := range f.Pixels {
		f.Pixels[i] = RGB{body[3*i], body[3*i+1], body[3*i+2]}
	}
	return f, nil
}

// FrameWriter writes a live frame field by field into a fixed buffer.
type FrameWriter struct {
	buf    []byte
	offset int
}

// NewFrameWriter writes into buf.
func NewFrameWriter(buf []byte) *FrameWriter {
	return &FrameWriter{buf: buf}
}

// Len returns the bytes written so far.
func (w *FrameWriter) Len() int {
	return w.offset
}

// Remaining returns the free space left.
func (w *FrameWriter) Remaining() int {
	return len(w.buf) - w.offset
}

func (w *FrameWriter) writeByte(v byte) {
	w.buf[w.offset] = v
	w.offset++
}

// WriteHeader writes the magic, version and, for matrices, dimensions.
func (w *FrameWriter) WriteHeader(h FrameHeader) error {
	if w.Remaining() < h.Size() {
		return ErrShortBuffer
	}
	w.writeByte(LiveMagic)
	w.writeByte(h.Version)
	if h.Version == LiveVersionMatrix {
		w.writeByte(h.Width)
		w.writeByte(h.Height)
	}
	return nil
}

// WritePixel writes one RGB sample.
func (w *FrameWriter) WritePixel(r, g, b uint8) error {
	if w.Remaining() < 3 {
		return ErrShortBuffer
	}
	w.writeByte(r)
	w.writeByte(g)
	w.writeByte(b)
	return nil
}
