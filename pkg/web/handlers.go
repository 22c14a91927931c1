package web

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-ledlink/pkg/hub"
	"github.com/teslashibe/go-ledlink/pkg/jsonbuf"
	"github.com/teslashibe/go-ledlink/pkg/live"
	"github.com/teslashibe/go-ledlink/pkg/memory"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
	"github.com/teslashibe/go-ledlink/pkg/session"
	"github.com/teslashibe/go-ledlink/pkg/snapshot"
)

func (s *Server) registerRoutes(app *fiber.App) {
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	js := app.Group("/json")
	js.Get("/", s.handleGetAll)
	js.Get("/state", s.handleGetSection(protocol.SectionState))
	js.Get("/info", s.handleGetSection(protocol.SectionInfo))
	js.Post("/", s.handlePostState)
	js.Post("/state", s.handlePostState)

	api := app.Group("/api")
	api.Get("/ws", s.handleWSInfo)
}

// busy answers a request that lost the race for the shared buffer.
func busy(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).
		Type("json").
		Send(protocol.ErrorReply(protocol.ErrorCodeNoBuffer))
}

// sendDoc encodes the guard's document as the response body.
func sendDoc(c *fiber.Ctx, g *jsonbuf.Guard) error {
	body, err := g.Encode()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	// The encoded bytes live in the shared buffer.
	return c.Type("json").Send(bytes.Clone(body))
}

// handleGetAll returns {"state":{...},"info":{...}}.
func (s *Server) handleGetAll(c *fiber.Ctx) error {
	g, ok := s.buf.TryAcquire(jsonbuf.PriorityHTTP)
	if !ok {
		return busy(c)
	}
	defer g.Release()

	snapshot.Fill(g, s.dev)
	return sendDoc(c, g)
}

// handleGetSection returns one section as the top-level object.
func (s *Server) handleGetSection(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		g, ok := s.buf.TryAcquire(jsonbuf.PriorityHTTP)
		if !ok {
			return busy(c)
		}
		defer g.Release()

		if name == protocol.SectionInfo {
			s.dev.SerializeInfo(g.Doc())
		} else {
			s.dev.SerializeState(g.Doc())
		}
		return sendDoc(c, g)
	}
}

// handlePostState applies a state document. With "v":true the new state is
// returned, otherwise {"success":true}.
func (s *Server) handlePostState(c *fiber.Ctx) error {
	g, ok := s.buf.TryAcquire(jsonbuf.PriorityHTTP)
	if !ok {
		return busy(c)
	}
	defer g.Release()

	root, err := g.Decode(c.Body())
	if err != nil {
		s.log.Debug("rejecting state update", "error", err)
		return c.Status(fiber.StatusBadRequest).
			Type("json").
			Send(protocol.ErrorReply(protocol.ErrorCodeJSON))
	}

	if !s.dev.DeserializeState(root) {
		return c.Type("json").Send(protocol.Success())
	}

	clear(g.Doc())
	s.dev.SerializeState(g.Doc())
	return sendDoc(c, g)
}

// handleHealth returns service health
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": Version,
		"uptime":  int(time.Since(s.started).Seconds()),
		"clients": s.hub.Count(),
		"profile": s.opts.Profile.Name,
	})
}

// WSInfo is the /api/ws response.
type WSInfo struct {
	Clients   []hub.ClientInfo    `json:"clients"`
	Live      session.ConnID      `json:"live"`
	Hub       hub.Stats           `json:"hub"`
	Session   session.Stats       `json:"session"`
	Snapshot  snapshot.Stats      `json:"snapshot"`
	Encoder   live.Stats          `json:"encoder"`
	Scheduler live.SchedulerStats `json:"scheduler"`
	Memory    memory.Stats        `json:"memory"`
	Buffer    jsonbuf.Stats       `json:"buffer"`
}

func (s *Server) wsInfo() WSInfo {
	id, _ := s.Registry().Live()
	return WSInfo{
		Clients:   s.hub.Clients(),
		Live:      id,
		Hub:       s.hub.Stats(),
		Session:   s.machine.Stats(),
		Snapshot:  s.sender.Stats(),
		Encoder:   s.encoder.Stats(),
		Scheduler: s.sched.Stats(),
		Memory:    s.heap.Stats(),
		Buffer:    s.buf.Stats(),
	}
}

// handleWSInfo lists clients and protocol counters
func (s *Server) handleWSInfo(c *fiber.Ctx) error {
	return c.JSON(s.wsInfo())
}

type metric struct {
	name, help, kind string
	value            any
}

// handleMetrics exposes counters in Prometheus text format
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	info := s.wsInfo()
	metrics := []metric{
		{"ledlink_ws_clients", "Connected WebSocket clients", "gauge", info.Hub.Clients},
		{"ledlink_ws_connects_total", "WebSocket connections accepted", "counter", info.Hub.Connects},
		{"ledlink_ws_text_sent_total", "Text messages written", "counter", info.Hub.TextSent},
		{"ledlink_ws_binary_sent_total", "Binary messages written", "counter", info.Hub.BinarySent},
		{"ledlink_ws_shed_total", "Clients closed under memory pressure", "counter", info.Hub.Shed},
		{"ledlink_requests_dropped_total", "Unparsable requests dropped", "counter", info.Session.Dropped},
		{"ledlink_requests_busy_total", "Requests dropped on a busy buffer", "counter", info.Session.Busy},
		{"ledlink_snapshots_sent_total", "Snapshots sent", "counter", info.Snapshot.Sent},
		{"ledlink_snapshot_low_memory_total", "Snapshots aborted for low memory", "counter", info.Snapshot.LowMemory},
		{"ledlink_live_frames_total", "Live frames sent", "counter", info.Encoder.Frames},
		{"ledlink_live_failures_total", "Live frames not sent", "counter", info.Scheduler.Failures},
		{"ledlink_interface_updates_total", "Interface update broadcasts", "counter", s.broadcasts.Load()},
		{"ledlink_heap_used_bytes", "Bytes held by transport buffers", "gauge", info.Memory.Used},
		{"ledlink_heap_peak_bytes", "Peak bytes held by transport buffers", "gauge", info.Memory.Peak},
	}

	var b strings.Builder
	for _, m := range metrics {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", m.name, m.help, m.name, m.kind, m.name, m.value)
	}
	return c.SendString(b.String())
}
