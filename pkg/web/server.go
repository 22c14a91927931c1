// Package web serves the controller: the WebSocket control channel, the
// JSON REST API and the health and metrics endpoints. All protocol work
// runs on one event-loop goroutine; socket readers only post events to it.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-ledlink/pkg/device"
	"github.com/teslashibe/go-ledlink/pkg/hub"
	"github.com/teslashibe/go-ledlink/pkg/jsonbuf"
	"github.com/teslashibe/go-ledlink/pkg/live"
	"github.com/teslashibe/go-ledlink/pkg/memory"
	"github.com/teslashibe/go-ledlink/pkg/platform"
	"github.com/teslashibe/go-ledlink/pkg/session"
	"github.com/teslashibe/go-ledlink/pkg/snapshot"
)

// Version is reported by /health.
const Version = "0.3.0"

// DefaultBroadcastCooldown is the minimum gap between interface-update
// broadcasts.
const DefaultBroadcastCooldown = time.Second

// Device is everything the server needs from the LED installation.
type Device interface {
	device.Engine
	device.StateModel
	device.Notifier
}

type renderer interface {
	Render(now time.Time)
}

type infoSource interface {
	OnInfo(hook func(info map[string]any))
}

// Options configures a Server.
type Options struct {
	// Addr to listen on, e.g. ":8080"
	Addr string

	// WSPath is the WebSocket endpoint (default "/ws").
	WSPath string

	Profile platform.Profile

	// SplitThreshold, see hub.DefaultSplitThreshold.
	SplitThreshold int

	// Tick is the event-loop period (default 5ms).
	Tick time.Duration

	// LiveInterval is the minimum gap between live frames (default 40ms).
	LiveInterval time.Duration

	// BroadcastCooldown, see DefaultBroadcastCooldown.
	BroadcastCooldown time.Duration

	// EventQueue is the capacity of the event channel (default 64).
	EventQueue int

	// AccessLog enables the fiber request logger.
	AccessLog bool

	Logger *slog.Logger
}

// Server is the controller's network front end.
type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger

	dev     Device
	buf     *jsonbuf.Buffer
	heap    *memory.Budget
	hub     *hub.Hub
	machine *session.Machine
	sender  *snapshot.Sender
	encoder *live.Encoder
	sched   *live.Scheduler

	events chan session.Event
	stop   chan struct{}

	loopOnce sync.Once
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	lastBroadcast time.Time
	broadcasts    atomic.Uint64
	started       time.Time
}

// NewServer wires a server around dev.
func NewServer(dev Device, opts Options) (*Server, error) {
	if dev == nil {
		return nil, errors.New("web: nil device")
	}
	if opts.Profile.Name == "" {
		opts.Profile = platform.Default()
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.Tick <= 0 {
		opts.Tick = live.DefaultTick
	}
	if opts.BroadcastCooldown <= 0 {
		opts.BroadcastCooldown = DefaultBroadcastCooldown
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger

	s := &Server{
		opts:    opts,
		log:     log.With("component", "web"),
		dev:     dev,
		buf:     jsonbuf.New(),
		heap:    memory.NewBudget(opts.Profile.HeapLimit),
		events:  make(chan session.Event, opts.EventQueue),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	s.hub = hub.New(hub.Config{
		Name:           "ws",
		SplitThreshold: opts.SplitThreshold,
		Logger:         log.With("component", "hub"),
	})
	s.hub.OnEvent(s.post)

	s.machine = session.NewMachine(session.Config{
		Buffer:   s.buf,
		Model:    dev,
		Notifier: dev,
		Logger:   log.With("component", "session"),
	})
	s.sender = snapshot.New(snapshot.Config{
		Buffer:    s.buf,
		Model:     dev,
		Heap:      s.heap,
		Transport: s.hub,
		Profile:   opts.Profile,
		Logger:    log.With("component", "snapshot"),
	})
	s.encoder = live.NewEncoder(dev, s.heap, s.hub, opts.Profile, log.With("component", "live"))
	s.sched = live.NewScheduler(live.SchedulerConfig{
		Interval:   opts.LiveInterval,
		MaxClients: opts.Profile.MaxClients,
		Registry:   s.machine.Registry(),
		Sender:     s.encoder,
		Cleaner:    s.hub,
		Logger:     log.With("component", "scheduler"),
	})

	if src, ok := dev.(infoSource); ok {
		src.OnInfo(func(info map[string]any) {
			info["ws"] = s.hub.Count()
			info["freeheap"] = s.heap.Free()
		})
	}

	app := fiber.New(fiber.Config{
		AppName:               "ledlink",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if opts.AccessLog {
		app.Use(logger.New())
	}

	s.hub.RegisterRoutes(app, opts.WSPath)
	s.registerRoutes(app)

	s.app = app
	return s, nil
}

// App returns the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Registry returns the live-subscriber registry.
func (s *Server) Registry() *session.Registry {
	return s.machine.Registry()
}

// post hands a transport event to the loop. It blocks the calling socket
// reader until the loop takes it or the server stops.
func (s *Server) post(ev session.Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// Run drives the event loop until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Server) startLoop() {
	s.loopOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go func() {
			defer close(s.done)
			s.Run(ctx)
		}()
	})
}

func (s *Server) handle(ev session.Event) {
	for _, eff := range s.machine.Step(ev) {
		switch eff.Kind {
		case session.EffectReply:
			if err := s.hub.Reply(eff.Conn, eff.Data); err != nil {
				s.log.Debug("reply dropped", "conn", eff.Conn, "error", err)
			}
		case session.EffectSnapshot:
			if err := s.sender.Send(eff.Conn); err != nil {
				s.log.Debug("snapshot not sent", "conn", eff.Conn, "error", err)
			}
		}
	}
}

func (s *Server) tick(now time.Time) {
	if r, ok := s.dev.(renderer); ok {
		r.Render(now)
	}
	s.sched.Tick(now)
	s.broadcastPending(now)
}

// broadcastPending pushes a snapshot to everyone once a state change is
// pending and the cooldown has passed.
func (s *Server) broadcastPending(now time.Time) {
	if !s.dev.UpdatePending() || now.Sub(s.lastBroadcast) < s.opts.BroadcastCooldown {
		return
	}
	err := s.sender.Send(session.Broadcast)
	switch {
	case errors.Is(err, snapshot.ErrBufferBusy), errors.Is(err, snapshot.ErrInsufficientHeap):
		s.log.Debug("interface update deferred", "error", err)
		return
	case err != nil:
		s.log.Warn("interface update failed", "error", err)
	}
	s.dev.ClearUpdatePending()
	s.lastBroadcast = now
	s.broadcasts.Add(1)
}

// Start runs the loop and listens on the configured address. It blocks
// until the server is shut down.
func (s *Server) Start() error {
	s.startLoop()
	s.log.Info("listening", "addr", s.opts.Addr, "ws", s.opts.WSPath, "profile", s.opts.Profile.Name)
	return s.app.Listen(s.opts.Addr)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.startLoop()
	s.log.Info("listening", "addr", ln.Addr().String(), "ws", s.opts.WSPath, "profile", s.opts.Profile.Name)
	return s.app.Listener(ln)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.log.Error("server stopped", "error", err)
		}
	}()
}

// Shutdown stops the loop, closes every client and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
		}
		s.hub.Close()
		s.machine.Registry().Reset()
	})
	return s.app.ShutdownWithContext(ctx)
}
