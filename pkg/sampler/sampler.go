// Package sampler produces frame-capture ticks on a fixed period.
//
// A Sampler fires its first tick as soon as it is started and then every
// interval on a fixed-rate schedule. Ticks that would fire late because the
// process stalled are skipped rather than delivered in a burst, so consumers
// never see a backlog.
package sampler

import (
	"log/slog"
	"sync"
	"time"
)

// Default timing.
const (
	DefaultInterval = 350 * time.Millisecond
	DefaultWarmUp   = 800 * time.Millisecond
)

// Stats reports sampler counters.
type Stats struct {
	Running bool   `json:"running"`
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
}

// Sampler fires a callback on a fixed interval.
type Sampler struct {
	clock  Clock
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	gen      uint64
	timer    Timer
	interval time.Duration
	next     time.Time
	ticks    uint64
	skipped  uint64
}

// New creates a stopped sampler. A nil clock uses RealClock and a nil logger
// uses slog.Default.
func New(clock Clock, logger *slog.Logger) *Sampler {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		clock:  clock,
		logger: logger.With("component", "sampler"),
	}
}

// Start begins firing onTick every interval. It returns false without
// creating a second timer when the sampler is already running or interval
// is not positive.
func (s *Sampler) Start(interval time.Duration, onTick func()) bool {
	if interval <= 0 || onTick == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	s.running = true
	s.gen++
	s.interval = interval
	s.next = s.clock.Now()
	s.schedule(s.gen, onTick, 0)

	s.logger.Debug("sampler started", "interval", interval)
	return true
}

// Stop cancels the timer. It is idempotent. Once Stop returns no tick that
// has not already begun dispatching will fire.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.logger.Debug("sampler stopped", "ticks", s.ticks, "skipped", s.skipped)
}

// After runs f once after d on the sampler's clock.
func (s *Sampler) After(d time.Duration, f func()) Timer {
	return s.clock.AfterFunc(d, f)
}

// Now returns the sampler clock's current time.
func (s *Sampler) Now() time.Time {
	return s.clock.Now()
}

// Running reports whether the sampler is started.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of the sampler counters.
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Running: s.running, Ticks: s.ticks, Skipped: s.skipped}
}

// schedule must be called with mu held.
func (s *Sampler) schedule(gen uint64, onTick func(), delay time.Duration) {
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen, onTick) })
}

func (s *Sampler) fire(gen uint64, onTick func()) {
	s.mu.Lock()
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return
	}

	s.ticks++
	now := s.clock.Now()
	s.next = s.next.Add(s.interval)
	if lag := now.Sub(s.next); lag >= 0 {
		missed := uint64(lag/s.interval) + 1
		s.skipped += missed
		s.next = s.next.Add(time.Duration(missed) * s.interval)
	}
	s.schedule(gen, onTick, s.next.Sub(now))
	s.mu.Unlock()

	onTick()
}
