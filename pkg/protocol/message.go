// Package protocol defines the WebSocket wire format between the LED
// controller and its clients: the JSON state-sync messages, the fixed
// text replies and the binary live-preview frame.
package protocol

import (
	"encoding/json"
	"errors"
)

// Opcode is a WebSocket frame opcode.
type Opcode uint8

// WebSocket opcodes (RFC 6455).
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// CloseTryAgainLater is sent to every client when the controller sheds
// load under memory pressure (RFC 6455 1013, "try again later").
const CloseTryAgainLater = 1013

// Error codes carried in {"error":N} replies.
const (
	ErrorCodeNoBuffer = 3 // shared JSON buffer busy
	ErrorCodeJSON     = 9 // unusable JSON, including split messages
)

// Top-level keys of the state-sync document.
const (
	KeyVerbose   = "v"
	KeyLive      = "lv"
	SectionState = "state"
	SectionInfo  = "info"
)

// PingMarker is the first byte of an application heartbeat.
const PingMarker = 'p'

// MaxPingLen is the exclusive upper bound on heartbeat payload size.
const MaxPingLen = 10

// ErrEmptyPayload is returned when parsing an empty message.
var ErrEmptyPayload = errors.New("protocol: empty payload")

// =============================================================================
// Fixed replies
// =============================================================================

var (
	replyPong    = []byte("pong")
	replySuccess = []byte(`{"success":true}`)
)

// Pong returns the heartbeat reply.
func Pong() []byte {
	return append([]byte(nil), replyPong...)
}

// Success returns the minimal acknowledgment.
func Success() []byte {
	return append([]byte(nil), replySuccess...)
}

// ErrorReply returns {"error":code}.
func ErrorReply(code int) []byte {
	b, _ := json.Marshal(struct {
		Error int `json:"error"`
	}{code})
	return b
}

// SplitMessageReply is sent for text messages spread over several frames.
func SplitMessageReply() []byte {
	return ErrorReply(ErrorCodeJSON)
}

// =============================================================================
// Inbound classification
// =============================================================================

// Kind classifies a decoded client object.
type Kind int

const (
	// KindState is forwarded to the state model.
	KindState Kind = iota
	// KindVerbose asks for a full snapshot reply.
	KindVerbose
	// KindLive toggles the live-preview subscription.
	KindLive
)

func (k Kind) String() string {
	switch k {
	case KindVerbose:
		return "verbose"
	case KindLive:
		return "live"
	default:
		return "state"
	}
}

// IsPing reports whether data is an application heartbeat: 1 to 9 bytes
// starting with 'p'.
func IsPing(data []byte) bool {
	return len(data) > 0 && len(data) < MaxPingLen && data[0] == PingMarker
}

// Classify decides how a decoded object is handled.
//
// {"v":true} and nothing else is a verbose request. Any object holding
// "lv" is a live toggle. Everything else is state.
func Classify(obj map[string]any) Kind {
	if len(obj) == 1 && Truthy(obj[KeyVerbose]) {
		return KindVerbose
	}
	if _, ok := obj[KeyLive]; ok {
		return KindLive
	}
	return KindState
}

// Truthy interprets a JSON value as a boolean: true, or a non-zero number.
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	}
	return false
}

// Snapshot is the typed form of a full state+info reply, used by clients.
type Snapshot struct {
	State map[string]any `json:"state"`
	Info  map[string]any `json:"info"`
}

// ParseSnapshot decodes a snapshot reply.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
