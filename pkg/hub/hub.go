package hub

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-ledlink/pkg/memory"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
	"github.com/teslashibe/go-ledlink/pkg/session"
)

var (
	// ErrNotConnected is returned when sending to an unknown connection.
	ErrNotConnected = errors.New("hub: client not connected")

	// ErrQueueFull is returned when a client's outbound queue is full.
	ErrQueueFull = errors.New("hub: client queue full")

	// ErrClosed is returned when sending to a client that is closing.
	ErrClosed = errors.New("hub: client closing")
)

// DefaultSplitThreshold is the largest text message treated as a single
// frame. Larger messages are reported as the tail of a split message.
const DefaultSplitThreshold = 1450

// Sink receives transport events. It is called from reader goroutines.
type Sink func(session.Event)

// Config configures a Hub.
type Config struct {
	// Name for logging
	Name string

	// SplitThreshold, see DefaultSplitThreshold. 0 disables the check.
	SplitThreshold int

	Logger *slog.Logger
}

// Hub maintains the set of active clients.
type Hub struct {
	name           string
	splitThreshold int
	log            *slog.Logger

	mu      sync.RWMutex
	clients map[session.ConnID]*Client
	nextID  atomic.Uint32

	sinkMu sync.RWMutex
	sink   Sink

	// Stats
	connects   atomic.Uint64
	textSent   atomic.Uint64
	binarySent atomic.Uint64
	dropped    atomic.Uint64
	shed       atomic.Uint64
}

// New creates a hub.
func New(cfg Config) *Hub {
	if cfg.Name == "" {
		cfg.Name = "ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		name:           cfg.Name,
		splitThreshold: cfg.SplitThreshold,
		log:            cfg.Logger.With("hub", cfg.Name),
		clients:        make(map[session.ConnID]*Client),
	}
}

// OnEvent sets the event sink.
func (h *Hub) OnEvent(sink Sink) {
	h.sinkMu.Lock()
	h.sink = sink
	h.sinkMu.Unlock()
}

func (h *Hub) emit(ev session.Event) {
	h.sinkMu.RLock()
	sink := h.sink
	h.sinkMu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}

// textEvent maps a reassembled text message onto a session event. The
// underlying transport joins fragments itself, so an oversized message is
// reported the way its last fragment would have arrived.
func (h *Hub) textEvent(id session.ConnID, data []byte) session.Event {
	n := len(data)
	if h.splitThreshold <= 0 || n <= h.splitThreshold {
		return session.Message(id, protocol.OpText, data)
	}
	tail := n % h.splitThreshold
	if tail == 0 {
		tail = h.splitThreshold
	}
	return session.Fragment(id, protocol.OpText, uint64(n-tail), uint64(n), true, data[n-tail:])
}

// RegisterRoutes registers the WebSocket endpoint at path on app.
func (h *Hub) RegisterRoutes(app fiber.Router, path string) {
	app.Use(path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(path, websocket.New(h.serve))
}

// serve runs one connection until it closes.
func (h *Hub) serve(conn *websocket.Conn) {
	id := session.ConnID(h.nextID.Add(1))
	if id == session.Broadcast {
		id = session.ConnID(h.nextID.Add(1))
	}
	c := newClient(h, id, conn)

	h.mu.Lock()
	h.clients[id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.connects.Add(1)

	h.log.Info("client connected", "conn", id, "clients", count, "remote", conn.RemoteAddr().String())
	h.emit(session.Connect(id))

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients, id)
	count = len(h.clients)
	h.mu.Unlock()

	c.close(websocket.CloseNormalClosure)
	<-c.done
	<-c.stopped
	h.log.Info("client disconnected", "conn", id, "clients", count)
	h.emit(session.Disconnect(id))
}

func (h *Hub) client(id session.ConnID) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b *Client) int {
		return int(a.id) - int(b.id)
	})
	return clients
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connected reports whether id is a connected client.
func (h *Hub) Connected(id session.ConnID) bool {
	return h.client(id) != nil
}

// QueueLen returns the outbound queue depth of id.
func (h *Hub) QueueLen(id session.ConnID) (int, bool) {
	c := h.client(id)
	if c == nil {
		return 0, false
	}
	return c.QueueLen(), true
}

// Reply queues a small unaccounted text message to id.
func (h *Hub) Reply(id session.ConnID, data []byte) error {
	c := h.client(id)
	if c == nil {
		return ErrNotConnected
	}
	return c.enqueue(NewTextMessage(data))
}

// SendText queues blk as a text message to id. It takes the caller's
// reference to blk.
func (h *Hub) SendText(id session.ConnID, blk *memory.Block) error {
	return h.sendBlock(id, TextMessage, blk)
}

// SendBinary queues blk as a binary message to id. It takes the caller's
// reference to blk.
func (h *Hub) SendBinary(id session.ConnID, blk *memory.Block) error {
	return h.sendBlock(id, BinaryMessage, blk)
}

func (h *Hub) sendBlock(id session.ConnID, t MessageType, blk *memory.Block) error {
	c := h.client(id)
	if c == nil {
		blk.Release()
		return ErrNotConnected
	}
	return c.enqueue(NewBlockMessage(t, blk))
}

// BroadcastText queues blk to every client and returns how many accepted
// it. It takes the caller's reference to blk.
func (h *Hub) BroadcastText(blk *memory.Block) int {
	defer blk.Release()
	sent := 0
	for _, c := range h.snapshot() {
		if err := c.enqueue(NewBlockMessage(TextMessage, blk.Retain())); err != nil {
			h.log.Debug("broadcast skipped client", "conn", c.id, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every client with code and drops all queued messages.
func (h *Hub) CloseAll(code int) {
	clients := h.snapshot()
	for _, c := range clients {
		c.close(code)
	}
	h.shed.Add(uint64(len(clients)))
	if len(clients) > 0 {
		h.log.Warn("closed all clients", "code", code, "clients", len(clients))
	}
}

// Cleanup closes the oldest clients until at most maxClients remain.
func (h *Hub) Cleanup(maxClients int) int {
	clients := h.snapshot()
	open := clients[:0]
	for _, c := range clients {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			open = append(open, c)
		}
	}
	excess := len(open) - maxClients
	for i := 0; i < excess; i++ {
		open[i].close(websocket.CloseGoingAway)
	}
	if excess > 0 {
		h.log.Info("closed oldest clients", "closed", excess, "max", maxClients)
		return excess
	}
	return 0
}

// Close shuts every connection down.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.close(websocket.CloseGoingAway)
	}
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID        session.ConnID `json:"id"`
	Connected time.Time      `json:"connected"`
	LastSeen  time.Time      `json:"last_seen"`
	Queued    int            `json:"queued"`
}

// Clients returns info about all connected clients, oldest first.
func (h *Hub) Clients() []ClientInfo {
	clients := h.snapshot()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		c.mu.Lock()
		infos = append(infos, ClientInfo{
			ID:        c.id,
			Connected: c.connected,
			LastSeen:  c.lastSeen,
			Queued:    c.QueueLen(),
		})
		c.mu.Unlock()
	}
	return infos
}

// Stats contains hub statistics
type Stats struct {
	Clients    int    `json:"clients"`
	Connects   uint64 `json:"connects"`
	TextSent   uint64 `json:"text_sent"`
	BinarySent uint64 `json:"binary_sent"`
	Dropped    uint64 `json:"dropped"`
	Shed       uint64 `json:"shed"`
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:    h.Count(),
		Connects:   h.connects.Load(),
		TextSent:   h.textSent.Load(),
		BinarySent: h.binarySent.Load(),
		Dropped:    h.dropped.Load(),
		Shed:       h.shed.Load(),
	}
}
