// Package session is the per-connection protocol state machine of the
// control channel. Transport callbacks become Events, Machine.Step turns
// each Event into Effects (replies and snapshot sends) and keeps the
// live-preview Registry up to date. Nothing here touches a socket.
package session

import (
	"fmt"

	"github.com/teslashibe/go-ledlink/pkg/protocol"
)

// ConnID is the transport-assigned connection identifier. Zero means
// "no connection" and, as an Effect target, "every connection".
type ConnID uint32

// Broadcast addresses every connected client.
const Broadcast ConnID = 0

// EventKind is the transport event type.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventData
	EventError
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventPong:
		return "pong"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// FrameInfo describes where a data payload sits inside its message.
type FrameInfo struct {
	// Final is set on the last frame of a message.
	Final bool

	// Index is the offset of this payload within the whole message.
	Index uint64

	// Len is the total message length.
	Len uint64

	// Opcode is the opcode of this frame (continuation for later fragments).
	Opcode protocol.Opcode

	// MessageOpcode is the opcode of the first frame of the message.
	MessageOpcode protocol.Opcode
}

// Event is one transport callback.
type Event struct {
	Kind  EventKind
	Conn  ConnID
	Frame FrameInfo
	Data  []byte
	Err   error
}

// Connect builds a connect event.
func Connect(id ConnID) Event {
	return Event{Kind: EventConnect, Conn: id}
}

// Disconnect builds a disconnect event.
func Disconnect(id ConnID) Event {
	return Event{Kind: EventDisconnect, Conn: id}
}

// Message builds a data event for a message that arrived in one frame.
func Message(id ConnID, op protocol.Opcode, data []byte) Event {
	return Event{
		Kind: EventData,
		Conn: id,
		Frame: FrameInfo{
			Final:         true,
			Len:           uint64(len(data)),
			Opcode:        op,
			MessageOpcode: op,
		},
		Data: data,
	}
}

// Fragment builds a data event for part of a multi-frame message.
func Fragment(id ConnID, msgOp protocol.Opcode, index, total uint64, final bool, data []byte) Event {
	op := protocol.OpContinuation
	if index == 0 {
		op = msgOp
	}
	return Event{
		Kind: EventData,
		Conn: id,
		Frame: FrameInfo{
			Final:         final,
			Index:         index,
			Len:           total,
			Opcode:        op,
			MessageOpcode: msgOp,
		},
		Data: data,
	}
}

// complete reports whether the payload is an entire message in one frame.
func (f FrameInfo) complete(n int) bool {
	return f.Final && f.Index == 0 && f.Len == uint64(n)
}

// EffectKind is what the transport must do.
type EffectKind int

const (
	// EffectReply sends Data as a text message to Conn.
	EffectReply EffectKind = iota + 1
	// EffectSnapshot sends a full state+info snapshot to Conn (or to all
	// clients when Conn is Broadcast).
	EffectSnapshot
)

func (k EffectKind) String() string {
	switch k {
	case EffectReply:
		return "reply"
	case EffectSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect is one outbound action produced by Step.
type Effect struct {
	Kind EffectKind
	Conn ConnID
	Data []byte
}

// Reply builds a text reply effect.
func Reply(id ConnID, data []byte) Effect {
	return Effect{Kind: EffectReply, Conn: id, Data: data}
}

// SnapshotTo builds a snapshot effect.
func SnapshotTo(id ConnID) Effect {
	return Effect{Kind: EffectSnapshot, Conn: id}
}
