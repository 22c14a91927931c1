package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
	"github.com/teslashibe/go-ledlink/pkg/session"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// closeWait bounds the close frame write
	closeWait = time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size allowed
	maxMessageSize = 64 * 1024

	// sendQueueSize bounds the per-client outbound queue
	sendQueueSize = 32
)

// Client is a single websocket connection.
type Client struct {
	id        session.ConnID
	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
	quit      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	connected time.Time

	mu       sync.Mutex
	closed   bool
	lastSeen time.Time

	// queued counts messages accepted but not yet written.
	queued atomic.Int32
}

func newClient(h *Hub, id session.ConnID, conn *websocket.Conn) *Client {
	now := time.Now()
	return &Client{
		id:        id,
		hub:       h,
		conn:      conn,
		send:      make(chan Message, sendQueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		connected: now,
		lastSeen:  now,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() session.ConnID {
	return c.id
}

// QueueLen returns the number of messages waiting to be written.
func (c *Client) QueueLen() int {
	return int(c.queued.Load())
}

// enqueue hands m to the write pump. It takes ownership of m either way.
func (c *Client) enqueue(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		m.release()
		return ErrClosed
	}

	c.queued.Add(1)
	select {
	case c.send <- m:
		return nil
	default:
		c.queued.Add(-1)
		m.release()
		return ErrQueueFull
	}
}

// close stops the write pump and drops everything still queued, then
// sends a close frame with code and closes the connection in the
// background. It never waits on the socket. done is closed once the
// connection is shut. Safe to call more than once.
func (c *Client) close(code int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.quit)
	c.mu.Unlock()

	c.purge()
	go func() {
		defer close(c.done)
		// Blocks while the write pump is stuck in a write.
		deadline := time.Now().Add(closeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		_ = c.conn.Close()
	}()
}

// purge drops queued messages and returns their buffers.
func (c *Client) purge() {
	for {
		select {
		case m := <-c.send:
			c.queued.Add(-1)
			m.release()
		default:
			return
		}
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// readPump reads messages until the connection fails and reports each one
// to the hub's sink.
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.emit(session.Event{Kind: session.EventPong, Conn: c.id})
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				protocol.CloseTryAgainLater,
			) {
				c.hub.emit(session.Event{Kind: session.EventError, Conn: c.id, Err: err})
			}
			return
		}
		c.touch()

		switch mt {
		case websocket.TextMessage:
			c.hub.emit(c.hub.textEvent(c.id, data))
		case websocket.BinaryMessage:
			c.hub.emit(session.Message(c.id, protocol.OpBinary, data))
		}
	}
}

// writePump writes queued messages to the websocket connection.
// Only this goroutine writes data frames to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.purge()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.quit:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}

			err := c.conn.WriteMessage(wsType, message.Data)
			message.release()
			c.queued.Add(-1)
			if err != nil {
				c.hub.dropped.Add(1)
				return
			}
			if wsType == websocket.BinaryMessage {
				c.hub.binarySent.Add(1)
			} else {
				c.hub.textSent.Add(1)
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
