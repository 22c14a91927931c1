package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-ledlink/pkg/device"
	"github.com/teslashibe/go-ledlink/pkg/jsonbuf"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
)

// Config wires a Machine to its collaborators.
type Config struct {
	Buffer   *jsonbuf.Buffer
	Model    device.StateModel
	Notifier device.Notifier
	Registry *Registry
	Logger   *slog.Logger
}

// Machine turns transport events into effects.
//
// Step is meant to be called from one goroutine; the shared buffer is the
// only state it shares with anything else.
type Machine struct {
	buf      *jsonbuf.Buffer
	model    device.StateModel
	notifier device.Notifier
	registry *Registry
	log      *slog.Logger

	pings    atomic.Uint64
	updates  atomic.Uint64
	dropped  atomic.Uint64
	busy     atomic.Uint64
	splits   atomic.Uint64
	verboses atomic.Uint64
}

// NewMachine creates a machine. Registry and Logger may be nil.
func NewMachine(cfg Config) *Machine {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{
		buf:      cfg.Buffer,
		model:    cfg.Model,
		notifier: cfg.Notifier,
		registry: cfg.Registry,
		log:      cfg.Logger,
	}
}

// Registry returns the live-subscriber registry.
func (m *Machine) Registry() *Registry {
	return m.registry
}

// Step handles one event.
func (m *Machine) Step(ev Event) []Effect {
	switch ev.Kind {
	case EventConnect:
		return []Effect{SnapshotTo(ev.Conn)}

	case EventDisconnect:
		if m.registry.Drop(ev.Conn) {
			m.log.Debug("live subscriber disconnected", "conn", ev.Conn)
		}
		return nil

	case EventData:
		return m.onData(ev)

	case EventError:
		m.log.Debug("transport error", "conn", ev.Conn, "error", ev.Err)
		return nil

	case EventPong:
		m.log.Debug("keepalive pong", "conn", ev.Conn)
		return nil
	}
	return nil
}

func (m *Machine) onData(ev Event) []Effect {
	f := ev.Frame
	if f.complete(len(ev.Data)) {
		if f.Opcode != protocol.OpText {
			return nil
		}
		return m.onText(ev.Conn, ev.Data)
	}

	// Split messages are not reassembled; answer once, on the last piece.
	if f.Index+uint64(len(ev.Data)) == f.Len && f.Final && f.MessageOpcode == protocol.OpText {
		m.splits.Add(1)
		return []Effect{Reply(ev.Conn, protocol.SplitMessageReply())}
	}
	return nil
}

func (m *Machine) onText(id ConnID, data []byte) []Effect {
	if protocol.IsPing(data) {
		m.pings.Add(1)
		return []Effect{Reply(id, protocol.Pong())}
	}

	verbose, ok := m.apply(id, data)
	if !ok {
		return nil
	}

	// A broadcast is about to go out and will reach this client too.
	if m.notifier != nil && m.notifier.UpdatePending() {
		return nil
	}
	if verbose {
		m.verboses.Add(1)
		return []Effect{SnapshotTo(id)}
	}
	// The client closes the socket if a request goes unanswered.
	return []Effect{Reply(id, protocol.Success())}
}

// apply decodes and applies one request under the shared buffer. ok is
// false when the request was dropped without a reply.
func (m *Machine) apply(id ConnID, data []byte) (verbose, ok bool) {
	g, acquired := m.buf.TryAcquire(jsonbuf.PriorityInbound)
	if !acquired {
		m.busy.Add(1)
		m.log.Debug("json buffer busy, dropping request", "conn", id)
		return false, false
	}
	defer g.Release()

	root, err := g.Decode(data)
	if err != nil {
		// Some clients send junk as keepalives; they get no reply.
		m.dropped.Add(1)
		m.log.Debug("dropping unparsable request", "conn", id, "error", err)
		return false, false
	}

	switch protocol.Classify(root) {
	case protocol.KindVerbose:
		verbose = true
	case protocol.KindLive:
		if protocol.Truthy(root[protocol.KeyLive]) {
			m.registry.Subscribe(id)
			m.log.Debug("live subscribe", "conn", id)
		} else if m.registry.Unsubscribe(id) {
			m.log.Debug("live unsubscribe", "conn", id)
		}
	default:
		m.updates.Add(1)
		verbose = m.model.DeserializeState(root)
	}
	return verbose, true
}

// Stats counts how requests were handled.
type Stats struct {
	Pings    uint64 `json:"pings"`
	Updates  uint64 `json:"updates"`
	Verbose  uint64 `json:"verbose"`
	Dropped  uint64 `json:"dropped"`
	Busy     uint64 `json:"busy"`
	Split    uint64 `json:"split"`
	LiveConn ConnID `json:"live_conn"`
}

// Stats returns request counters.
func (m *Machine) Stats() Stats {
	live, _ := m.registry.Live()
	return Stats{
		Pings:    m.pings.Load(),
		Updates:  m.updates.Load(),
		Verbose:  m.verboses.Load(),
		Dropped:  m.dropped.Load(),
		Busy:     m.busy.Load(),
		Split:    m.splits.Load(),
		LiveConn: live,
	}
}
