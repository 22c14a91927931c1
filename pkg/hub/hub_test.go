package hub

import (
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-ledlink/pkg/memory"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
	"github.com/teslashibe/go-ledlink/pkg/session"
)

func newTestHub(threshold int) *Hub {
	return New(Config{SplitThreshold: threshold, Logger: slog.New(slog.DiscardHandler)})
}

// serveHub starts a fiber app for h and returns the ws URL and an event
// channel fed by the hub's sink.
func serveHub(t *testing.T, h *Hub) (string, <-chan session.Event) {
	t.Helper()
	events := make(chan session.Event, 64)
	h.OnEvent(func(ev session.Event) { events <- ev })

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.RegisterRoutes(app, "/ws")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() {
		h.Close()
		app.Shutdown()
	})
	return "ws://" + ln.Addr().String() + "/ws", events
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func next(t *testing.T, events <-chan session.Event, kind session.EventKind) session.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %v event", kind)
		}
	}
}

func TestTextEvent(t *testing.T) {
	h := newTestHub(10)

	ev := h.textEvent(1, []byte("short"))
	assert.True(t, ev.Frame.Final)
	assert.Equal(t, uint64(0), ev.Frame.Index)
	assert.Equal(t, uint64(5), ev.Frame.Len)

	data := []byte("0123456789abcdefghijklmnopqrstuvw") // 33 bytes
	ev = h.textEvent(1, data)
	assert.True(t, ev.Frame.Final)
	assert.Equal(t, uint64(30), ev.Frame.Index)
	assert.Equal(t, uint64(33), ev.Frame.Len)
	assert.Equal(t, protocol.OpText, ev.Frame.MessageOpcode)
	assert.Equal(t, []byte("uvw"), ev.Data)

	ev = h.textEvent(1, data[:30])
	assert.Equal(t, uint64(20), ev.Frame.Index)
	assert.Len(t, ev.Data, 10)

	off := newTestHub(0)
	ev = off.textEvent(1, data)
	assert.Equal(t, uint64(0), ev.Frame.Index)
	assert.Equal(t, data, ev.Data)
}

func TestConnectAndDisconnect(t *testing.T) {
	h := newTestHub(0)
	url, events := serveHub(t, h)

	ws := dial(t, url)
	ev := next(t, events, session.EventConnect)
	assert.NotEqual(t, session.Broadcast, ev.Conn)
	assert.Equal(t, 1, h.Count())
	assert.True(t, h.Connected(ev.Conn))

	ws.Close()
	gone := next(t, events, session.EventDisconnect)
	assert.Equal(t, ev.Conn, gone.Conn)
	assert.Equal(t, 0, h.Count())
}

func TestMessagesBecomeEvents(t *testing.T) {
	h := newTestHub(16)
	url, events := serveHub(t, h)

	ws := dial(t, url)
	id := next(t, events, session.EventConnect).Conn

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"v":true}`)))
	ev := next(t, events, session.EventData)
	assert.Equal(t, id, ev.Conn)
	assert.Equal(t, protocol.OpText, ev.Frame.Opcode)
	assert.Equal(t, `{"v":true}`, string(ev.Data))

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
	ev = next(t, events, session.EventData)
	assert.Equal(t, protocol.OpBinary, ev.Frame.Opcode)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, make([]byte, 40)))
	ev = next(t, events, session.EventData)
	assert.Equal(t, uint64(32), ev.Frame.Index)
	assert.Equal(t, uint64(40), ev.Frame.Len)
}

func TestReplyAndBlocks(t *testing.T) {
	h := newTestHub(0)
	url, events := serveHub(t, h)
	budget := memory.NewBudget(1024)

	ws := dial(t, url)
	id := next(t, events, session.EventConnect).Conn

	require.NoError(t, h.Reply(id, protocol.Pong()))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))

	blk, err := budget.Alloc(3)
	require.NoError(t, err)
	copy(blk.Bytes(), "abc")
	require.NoError(t, h.SendBinary(id, blk))

	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte("abc"), data)

	blk, err = budget.Alloc(4)
	require.NoError(t, err)
	copy(blk.Bytes(), "text")
	assert.Equal(t, 1, h.BroadcastText(blk))

	mt, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "text", string(data))

	assert.Eventually(t, func() bool { return budget.Used() == 0 }, time.Second, 5*time.Millisecond)
	n, ok := h.QueueLen(id)
	assert.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestSendToUnknownClient(t *testing.T) {
	h := newTestHub(0)
	budget := memory.NewBudget(16)

	blk, err := budget.Alloc(8)
	require.NoError(t, err)
	assert.ErrorIs(t, h.SendText(99, blk), ErrNotConnected)
	assert.Equal(t, 0, budget.Used())

	assert.ErrorIs(t, h.Reply(99, []byte("x")), ErrNotConnected)
	_, ok := h.QueueLen(99)
	assert.False(t, ok)
}

func TestCloseAll(t *testing.T) {
	h := newTestHub(0)
	url, events := serveHub(t, h)

	a := dial(t, url)
	next(t, events, session.EventConnect)
	b := dial(t, url)
	next(t, events, session.EventConnect)

	h.CloseAll(protocol.CloseTryAgainLater)

	for _, ws := range []*websocket.Conn{a, b} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := ws.ReadMessage()
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "got %v", err)
		assert.Equal(t, protocol.CloseTryAgainLater, ce.Code)
	}
	assert.Equal(t, uint64(2), h.Stats().Shed)
}

func TestCleanupClosesOldest(t *testing.T) {
	h := newTestHub(0)
	url, events := serveHub(t, h)

	old := dial(t, url)
	first := next(t, events, session.EventConnect).Conn
	dial(t, url)
	second := next(t, events, session.EventConnect).Conn

	assert.Equal(t, 0, h.Cleanup(2))
	assert.Equal(t, 1, h.Cleanup(1))

	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := old.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	gone := next(t, events, session.EventDisconnect)
	assert.Equal(t, first, gone.Conn)
	assert.True(t, h.Connected(second))

	infos := h.Clients()
	require.Len(t, infos, 1)
	assert.Equal(t, second, infos[0].ID)
}

// stall fills id's queue with large frames while the peer is not reading,
// until the write pump is stuck and the queue refuses more.
func stall(t *testing.T, h *Hub, id session.ConnID, budget *memory.Budget) {
	t.Helper()
	for i := 0; i < 400; i++ {
		blk, err := budget.Alloc(256 * 1024)
		require.NoError(t, err)
		if err := h.SendBinary(id, blk); err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
			return
		}
	}
	t.Fatal("queue never filled")
}

func TestCloseAllPurgesQueuedBlocks(t *testing.T) {
	h := newTestHub(0)
	url, events := serveHub(t, h)
	budget := memory.NewBudget(0)

	dial(t, url)
	id := next(t, events, session.EventConnect).Conn

	stall(t, h, id, budget)
	assert.Positive(t, budget.Used())

	h.CloseAll(protocol.CloseTryAgainLater)

	assert.Eventually(t, func() bool { return budget.Used() == 0 }, 5*time.Second, 10*time.Millisecond)
	n, ok := h.QueueLen(id)
	assert.True(t, !ok || n == 0, "queue %d", n)
	next(t, events, session.EventDisconnect)
}

func TestCloseDoesNotWaitOnStuckWriter(t *testing.T) {
	h := newTestHub(0)
	url, events := serveHub(t, h)
	budget := memory.NewBudget(0)

	dial(t, url)
	id := next(t, events, session.EventConnect).Conn
	stall(t, h, id, budget)

	start := time.Now()
	assert.Equal(t, 1, h.Cleanup(0))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	next(t, events, session.EventDisconnect)
	assert.False(t, h.Connected(id))
}
