// Package hub is the WebSocket transport of the control channel: it owns
// the sockets, assigns connection IDs, queues outbound messages per client
// and turns socket activity into session events.
package hub

import "github.com/teslashibe/go-ledlink/pkg/memory"

// MessageType indicates the websocket message format
type MessageType int

const (
	// TextMessage is a JSON or plain-text message
	TextMessage MessageType = iota
	// BinaryMessage is a live-preview frame
	BinaryMessage
)

// Message is one queued outbound message.
type Message struct {
	Type MessageType
	Data []byte

	// block, when set, backs Data and is released after the write.
	block *memory.Block
}

// NewTextMessage wraps plain bytes that need no accounting.
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBlockMessage wraps a budget block. The message owns one reference.
func NewBlockMessage(t MessageType, blk *memory.Block) Message {
	return Message{Type: t, Data: blk.Bytes(), block: blk}
}

func (m Message) release() {
	m.block.Release()
}
