// Package jsonbuf provides the single shared JSON document used for every
// structured-state encode and decode, guarded by a non-blocking try-lock.
//
// Holders acquire it with a priority tag and get a Guard back; the guard
// releases the buffer (and clears the document) exactly once no matter how
// many times Release is called, so a deferred Release covers every early
// return.
package jsonbuf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Priority tags a holder of the buffer.
type Priority uint8

// Well-known priorities. Higher numbers belong to the WebSocket paths.
const (
	PriorityHTTP     Priority = 10
	PriorityInbound  Priority = 11
	PrioritySnapshot Priority = 12
)

func (p Priority) String() string {
	switch p {
	case PriorityHTTP:
		return "http"
	case PriorityInbound:
		return "ws-inbound"
	case PrioritySnapshot:
		return "ws-snapshot"
	default:
		return fmt.Sprintf("prio-%d", uint8(p))
	}
}

var (
	// ErrNotObject is returned by Decode when the payload parses but is not
	// a JSON object.
	ErrNotObject = errors.New("jsonbuf: payload is not an object")

	// ErrReleased is returned when a guard is used after Release.
	ErrReleased = errors.New("jsonbuf: guard already released")
)

// Buffer is the shared document and its lock.
type Buffer struct {
	mu sync.Mutex

	doc     map[string]any
	scratch bytes.Buffer

	// holder is the current owner's priority plus one, 0 when free.
	holder atomic.Uint32

	acquired atomic.Uint64
	denied   atomic.Uint64
}

// New returns a free buffer.
func New() *Buffer {
	return &Buffer{doc: make(map[string]any)}
}

// TryAcquire takes the buffer if nobody holds it. It never blocks.
func (b *Buffer) TryAcquire(p Priority) (*Guard, bool) {
	if !b.mu.TryLock() {
		b.denied.Add(1)
		return nil, false
	}
	b.holder.Store(uint32(p) + 1)
	b.acquired.Add(1)
	return &Guard{buf: b, prio: p}, true
}

// Holder returns the priority of the current owner and whether it is held.
func (b *Buffer) Holder() (Priority, bool) {
	h := b.holder.Load()
	if h == 0 {
		return 0, false
	}
	return Priority(h - 1), true
}

// Stats reports lock counters.
type Stats struct {
	Acquired uint64 `json:"acquired"`
	Denied   uint64 `json:"denied"`
}

// Stats returns lock counters.
func (b *Buffer) Stats() Stats {
	return Stats{Acquired: b.acquired.Load(), Denied: b.denied.Load()}
}

// Guard is exclusive ownership of the buffer.
type Guard struct {
	buf      *Buffer
	prio     Priority
	released bool
}

// Priority returns the priority the guard was acquired with.
func (g *Guard) Priority() Priority {
	return g.prio
}

// Doc returns the shared document. It is empty on acquisition.
func (g *Guard) Doc() map[string]any {
	if g.released {
		return nil
	}
	return g.buf.doc
}

// Section returns doc[name] as an object, creating it when missing.
func (g *Guard) Section(name string) map[string]any {
	doc := g.Doc()
	if doc == nil {
		return nil
	}
	if m, ok := doc[name].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	doc[name] = m
	return m
}

// Decode parses data into the document. The payload must be a JSON object.
func (g *Guard) Decode(data []byte) (map[string]any, error) {
	if g.released {
		return nil, ErrReleased
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("jsonbuf: decode: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return nil, ErrNotObject
	}
	clear(g.buf.doc)
	for k, val := range obj {
		g.buf.doc[k] = val
	}
	return g.buf.doc, nil
}

// Encode serializes the document into the buffer's scratch space and
// returns it. The slice is only valid until the guard is released.
func (g *Guard) Encode() ([]byte, error) {
	if g.released {
		return nil, ErrReleased
	}
	g.buf.scratch.Reset()
	enc := json.NewEncoder(&g.buf.scratch)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(g.buf.doc); err != nil {
		return nil, fmt.Errorf("jsonbuf: encode: %w", err)
	}
	// Encoder terminates with a newline; the wire format does not.
	out := g.buf.scratch.Bytes()
	return bytes.TrimSuffix(out, []byte{'\n'}), nil
}

// Release clears the document and frees the buffer. Safe to call twice.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	clear(g.buf.doc)
	g.buf.scratch.Reset()
	g.buf.holder.Store(0)
	g.buf.mu.Unlock()
}
