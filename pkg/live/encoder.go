// Package live streams a downsampled copy of the pixel buffer to the one
// subscribed client as binary frames, paced by a fixed-interval scheduler
// that backs off when the client's queue is not drained.
package live

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-ledlink/pkg/device"
	"github.com/teslashibe/go-ledlink/pkg/memory"
	"github.com/teslashibe/go-ledlink/pkg/platform"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
	"github.com/teslashibe/go-ledlink/pkg/session"
)

// Transport is what the encoder needs from the socket layer.
type Transport interface {
	QueueLen(id session.ConnID) (int, bool)
	SendBinary(id session.ConnID, blk *memory.Block) error
}

// Encoder builds and sends live frames.
type Encoder struct {
	engine    device.Engine
	heap      memory.Heap
	transport Transport
	limit     int
	log       *slog.Logger

	frames atomic.Uint64
	bytes  atomic.Uint64
}

// NewEncoder creates an encoder sampling at most profile.MaxLiveLEDs pixels.
func NewEncoder(engine device.Engine, heap memory.Heap, transport Transport, profile platform.Profile, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		engine:    engine,
		heap:      heap,
		transport: transport,
		limit:     profile.MaxLiveLEDs,
		log:       logger,
	}
}

// Layout returns the layout for the engine's current geometry.
func (e *Encoder) Layout() Layout {
	w, h, matrix := e.engine.Matrix()
	return Plan(e.engine.Length(), w, h, matrix, e.limit)
}

// Encode writes one frame for l into dst, which must be exactly l.Size()
// bytes long.
func Encode(dst []byte, engine device.Engine, l Layout) error {
	if len(dst) != l.Size() {
		return fmt.Errorf("%w: have %d, want %d", protocol.ErrShortBuffer, len(dst), l.Size())
	}
	w := protocol.NewFrameWriter(dst)
	if err := w.WriteHeader(l.Header); err != nil {
		return err
	}

	total := engine.Length()
	bri := engine.Brightness()
	var err error
	l.each(func(i int) {
		if err != nil {
			return
		}
		var c device.Color
		if i < total {
			c = engine.PixelColor(i)
		}
		white := c.W()
		err = w.WritePixel(
			scale8(qadd8(white, c.R()), bri),
			scale8(qadd8(white, c.G()), bri),
			scale8(qadd8(white, c.B()), bri),
		)
	})
	return err
}

// Send builds a frame and queues it to id. It does nothing to the client
// when its queue is not empty.
func (e *Encoder) Send(id session.ConnID) error {
	queued, ok := e.transport.QueueLen(id)
	if !ok {
		return ErrNotConnected
	}
	if queued > 0 {
		return ErrQueueBusy
	}

	l := e.Layout()
	blk, err := e.heap.Alloc(l.Size())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocFailed, err)
	}
	if err := Encode(blk.Bytes(), e.engine, l); err != nil {
		blk.Release()
		return err
	}

	size := blk.Len()
	if err := e.transport.SendBinary(id, blk); err != nil {
		return fmt.Errorf("live: send to %d: %w", id, err)
	}
	e.frames.Add(1)
	e.bytes.Add(uint64(size))
	return nil
}

// Stats counts encoder output.
type Stats struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
}

// Stats returns encoder counters.
func (e *Encoder) Stats() Stats {
	return Stats{Frames: e.frames.Load(), Bytes: e.bytes.Load()}
}
