package live

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-ledlink/pkg/session"
)

const (
	// DefaultInterval is the minimum time between live frames.
	DefaultInterval = 40 * time.Millisecond

	// DefaultRetry is how much sooner the next attempt comes after a
	// failed send.
	DefaultRetry = 20 * time.Millisecond

	// DefaultTick is how often Run polls the scheduler.
	DefaultTick = 5 * time.Millisecond
)

// Sender sends one live frame to a connection.
type Sender interface {
	Send(id session.ConnID) error
}

// Cleaner trims the connection count.
type Cleaner interface {
	Cleanup(maxClients int) int
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Interval   time.Duration
	Retry      time.Duration
	MaxClients int

	Registry *session.Registry
	Sender   Sender
	Cleaner  Cleaner
	Logger   *slog.Logger
}

// Scheduler paces live frames and client cleanup. Tick is not safe for
// concurrent use; it belongs to the event loop.
type Scheduler struct {
	interval   time.Duration
	retry      time.Duration
	maxClients int

	registry *session.Registry
	sender   Sender
	cleaner  Cleaner
	log      *slog.Logger

	last time.Time

	ticks    atomic.Uint64
	sent     atomic.Uint64
	failures atomic.Uint64
}

// NewScheduler creates a scheduler. Zero durations take the defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		interval:   cfg.Interval,
		retry:      cfg.Retry,
		maxClients: cfg.MaxClients,
		registry:   cfg.Registry,
		sender:     cfg.Sender,
		cleaner:    cfg.Cleaner,
		log:        cfg.Logger,
	}
}

// Last returns the time of the last emission.
func (s *Scheduler) Last() time.Time {
	return s.last
}

// NextDue returns the earliest time the next Tick will do work.
func (s *Scheduler) NextDue() time.Time {
	return s.last.Add(s.interval)
}

// Tick runs one scheduling step and reports whether the interval had
// elapsed.
func (s *Scheduler) Tick(now time.Time) bool {
	if now.Sub(s.last) <= s.interval {
		return false
	}
	s.ticks.Add(1)

	if s.cleaner != nil && s.maxClients > 0 {
		s.cleaner.Cleanup(s.maxClients)
	}

	ok := true
	if id, live := s.registry.Live(); live {
		if err := s.sender.Send(id); err != nil {
			ok = false
			s.failures.Add(1)
			if errors.Is(err, ErrNotConnected) {
				s.log.Debug("live subscriber gone", "conn", id)
			} else if !errors.Is(err, ErrQueueBusy) {
				s.log.Warn("live frame failed", "conn", id, "error", err)
			}
		} else {
			s.sent.Add(1)
		}
	}

	s.last = now
	if !ok {
		s.last = now.Add(-s.retry)
	}
	return true
}

// Run ticks every period until ctx is done.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultTick
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// SchedulerStats counts scheduler activity.
type SchedulerStats struct {
	Ticks    uint64 `json:"ticks"`
	Sent     uint64 `json:"sent"`
	Failures uint64 `json:"failures"`
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Ticks:    s.ticks.Load(),
		Sent:     s.sent.Load(),
		Failures: s.failures.Load(),
	}
}
