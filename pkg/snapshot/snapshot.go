// Package snapshot encodes the full device state and info into the shared
// JSON buffer and delivers it to one client or all of them.
//
// Under memory pressure it does not try to limp along: if the transport
// buffer cannot be allocated cleanly every client is disconnected with
// "try again later" and all queued output is dropped.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-ledlink/pkg/device"
	"github.com/teslashibe/go-ledlink/pkg/jsonbuf"
	"github.com/teslashibe/go-ledlink/pkg/memory"
	"github.com/teslashibe/go-ledlink/pkg/platform"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
	"github.com/teslashibe/go-ledlink/pkg/session"
)

var (
	// ErrBufferBusy means the shared JSON buffer was held by someone else.
	ErrBufferBusy = errors.New("snapshot: json buffer busy")

	// ErrInsufficientHeap means the heap pre-check failed; nothing was
	// allocated and no client was touched.
	ErrInsufficientHeap = errors.New("snapshot: insufficient heap")

	// ErrLowMemory means allocation failed or misbehaved and every client
	// was disconnected.
	ErrLowMemory = errors.New("snapshot: low memory, clients shed")
)

// Transport is what the sender needs from the socket layer.
type Transport interface {
	Count() int
	SendText(id session.ConnID, blk *memory.Block) error
	BroadcastText(blk *memory.Block) int
	CloseAll(code int)
}

// Config wires a Sender.
type Config struct {
	Buffer    *jsonbuf.Buffer
	Model     device.StateModel
	Heap      memory.Heap
	Transport Transport
	Profile   platform.Profile
	Logger    *slog.Logger
}

// Sender produces snapshots.
type Sender struct {
	buf       *jsonbuf.Buffer
	model     device.StateModel
	heap      memory.Heap
	transport Transport
	profile   platform.Profile
	log       *slog.Logger

	sent       atomic.Uint64
	busy       atomic.Uint64
	lowMemory  atomic.Uint64
	lastLength atomic.Int64
}

// New creates a sender.
func New(cfg Config) *Sender {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sender{
		buf:       cfg.Buffer,
		model:     cfg.Model,
		heap:      cfg.Heap,
		transport: cfg.Transport,
		profile:   cfg.Profile,
		log:       cfg.Logger,
	}
}

// Fill writes the "state" and "info" sections into g's document.
func Fill(g *jsonbuf.Guard, model device.StateModel) {
	model.SerializeState(g.Section(protocol.SectionState))
	model.SerializeInfo(g.Section(protocol.SectionInfo))
}

// Send delivers a snapshot to id, or to every client when id is
// session.Broadcast. With no clients connected it does nothing.
func (s *Sender) Send(id session.ConnID) error {
	if s.transport.Count() == 0 {
		return nil
	}

	g, ok := s.buf.TryAcquire(jsonbuf.PrioritySnapshot)
	if !ok {
		s.busy.Add(1)
		return ErrBufferBusy
	}
	defer g.Release()

	Fill(g, s.model)
	payload, err := g.Encode()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	n := len(payload)
	s.lastLength.Store(int64(n))

	if s.profile.HeapCheck {
		if free := s.heap.Free(); n > free {
			s.log.Warn("not enough heap for snapshot", "need", n, "free", free)
			return ErrInsufficientHeap
		}
	}

	// Free moves while write pumps return blocks; the charge comes from
	// the block.
	blk, err := s.heap.Alloc(n)
	if err != nil || (s.profile.HeapCheck && blk.Cost() > n) {
		charged := blk.Cost()
		blk.Release()
		g.Release()
		s.shed(n, charged, err)
		return ErrLowMemory
	}

	copy(blk.Bytes(), payload)

	if id == session.Broadcast {
		s.transport.BroadcastText(blk)
	} else if err := s.transport.SendText(id, blk); err != nil {
		return fmt.Errorf("snapshot: send to %d: %w", id, err)
	}
	s.sent.Add(1)
	return nil
}

// shed drops every client after a failed allocation.
func (s *Sender) shed(n, charged int, err error) {
	s.lowMemory.Add(1)
	s.log.Error("low memory while encoding snapshot, closing all clients",
		"need", n, "charged", charged, "error", err)
	s.transport.CloseAll(protocol.CloseTryAgainLater)
}

// Stats counts snapshot outcomes.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Busy       uint64 `json:"busy"`
	LowMemory  uint64 `json:"low_memory"`
	LastLength int64  `json:"last_length"`
}

// Stats returns snapshot counters.
func (s *Sender) Stats() Stats {
	return Stats{
		Sent:       s.sent.Load(),
		Busy:       s.busy.Load(),
		LowMemory:  s.lowMemory.Load(),
		LastLength: s.lastLength.Load(),
	}
}
