// Package live runs a posture monitoring session: it acquires the camera,
// waits for it to warm up, samples frames on a fixed cadence, scores them and
// keeps the session's score history.
//
// State machine:
//
//	Idle --Start--> AcquiringDevice --ready--> WarmingUp --warm-up--> Live
//	AcquiringDevice --capture error--> Idle
//	Live --Stop--> Stopping --teardown--> Idle
//	AcquiringDevice, WarmingUp --Stop--> Idle
//
// Every deferred callback (warm-up timer, sampler tick, scoring completion,
// acquisition completion) carries the generation of the session that
// scheduled it and does nothing once that session has ended.
package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/sitstraight/pkg/capture"
	"github.com/teslashibe/sitstraight/pkg/posture"
	"github.com/teslashibe/sitstraight/pkg/sampler"
	"github.com/teslashibe/sitstraight/pkg/scoring"
)

// FrameSource acquires the camera and extracts frames from it.
// *capture.Session implements it.
type FrameSource interface {
	Acquire(ctx context.Context) (*capture.Handle, error)
	ExtractFrame(h *capture.Handle) (capture.Frame, error)
	Release(h *capture.Handle)
}

// Scorer scores one JPEG frame. *scoring.Client implements it.
type Scorer interface {
	Submit(ctx context.Context, jpeg []byte) (posture.Result, error)
}

// Config holds controller timing.
type Config struct {
	Interval time.Duration // time between samples
	WarmUp   time.Duration // delay between device ready and first sample
	Logger   *slog.Logger
}

// DefaultConfig returns the standard 350ms cadence with an 800ms warm-up.
func DefaultConfig() Config {
	return Config{
		Interval: sampler.DefaultInterval,
		WarmUp:   sampler.DefaultWarmUp,
		Logger:   slog.Default(),
	}
}

// Stats is a snapshot of the controller for status endpoints.
type Stats struct {
	State         State     `json:"state"`
	Live          bool      `json:"live"`
	SessionID     string    `json:"session_id,omitempty"`
	Samples       int       `json:"samples"`
	Ticks         uint64    `json:"ticks"`
	SkippedFrames uint64    `json:"skipped_frames"`
	Busy          uint64    `json:"busy"`
	Diagnostics   uint64    `json:"diagnostics"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	LiveSince     time.Time `json:"live_since,omitempty"`
}

// Controller owns one monitoring session at a time.
type Controller struct {
	config   Config
	source   FrameSource
	scorer   Scorer
	sampler  *sampler.Sampler
	listener Listener
	logger   *slog.Logger

	mu            sync.Mutex
	state         State
	gen           uint64
	sessionID     string
	currentID     atomic.Value // string; readable without mu
	cancelAcquire context.CancelFunc
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	handle        *capture.Handle
	warmup        sampler.Timer
	history       []posture.Sample
	last          *ScoreUpdate
	startedAt     time.Time
	liveSince     time.Time

	ticks         uint64
	skippedFrames uint64
	busy          uint64
	diagnostics   uint64
}

// New creates an idle controller. A nil sampler uses the real clock and a nil
// listener discards events.
func New(cfg Config, source FrameSource, scorer Scorer, smp *sampler.Sampler, listener Listener) *Controller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WarmUp < 0 {
		cfg.WarmUp = def.WarmUp
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if smp == nil {
		smp = sampler.New(nil, cfg.Logger)
	}
	if listener == nil {
		listener = NopListener{}
	}

	return &Controller{
		config:   cfg,
		source:   source,
		scorer:   scorer,
		sampler:  smp,
		listener: listener,
		logger:   cfg.Logger.With("component", "live"),
		state:    Idle,
	}
}

// Start begins a session. It blocks until the device is ready (or fails) and
// then returns while the warm-up runs. Calling Start when not Idle does
// nothing. If Stop runs while the device is being acquired, Start returns nil
// and the late handle is released.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil
	}

	c.gen++
	gen := c.gen
	c.sessionID = uuid.NewString()
	c.currentID.Store(c.sessionID)
	c.history = nil
	c.last = nil
	c.startedAt = c.sampler.Now()
	c.liveSince = time.Time{}
	c.ticks, c.skippedFrames, c.busy, c.diagnostics = 0, 0, 0, 0
	c.sessionCtx, c.cancelSession = context.WithCancel(context.Background())

	acquireCtx, cancel := context.WithCancel(ctx)
	c.cancelAcquire = cancel

	c.setState(AcquiringDevice)
	c.listener.LiveStatusChanged(true)
	c.logger.Info("session starting", "session", c.sessionID)
	c.mu.Unlock()

	h, err := c.source.Acquire(acquireCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != AcquiringDevice {
		if h != nil {
			c.source.Release(h)
		}
		c.logger.Debug("acquisition finished after stop", "error", err)
		return nil
	}
	c.cancelAcquire = nil

	if err != nil {
		c.cancelSession()
		c.logger.Warn("camera acquisition failed", "session", c.sessionID, "error", err)
		c.setState(Idle)
		c.listener.CaptureError(err)
		c.listener.LiveStatusChanged(false)
		return err
	}

	c.handle = h
	c.setState(WarmingUp)
	c.warmup = c.sampler.After(c.config.WarmUp, func() { c.beginLive(gen) })
	return nil
}

func (c *Controller) beginLive(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != WarmingUp {
		return
	}
	c.warmup = nil
	c.liveSince = c.sampler.Now()
	c.setState(Live)

	if !c.sampler.Start(c.config.Interval, func() { c.tick(gen) }) {
		c.logger.Warn("sampler already running")
	}
}

// tick samples one frame. Frame extraction failures are expected around
// warm-up and revocation and are skipped silently; busy scorer results are
// dropped; other scoring failures are reported but never stop the loop.
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Live {
		c.mu.Unlock()
		return
	}
	c.ticks++

	frame, err := c.source.ExtractFrame(c.handle)
	if err != nil {
		c.skippedFrames++
		c.mu.Unlock()
		return
	}
	ctx := c.sessionCtx
	c.mu.Unlock()

	result, err := c.scorer.Submit(ctx, frame.Data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != Live {
		return
	}

	switch {
	case errors.Is(err, scoring.ErrBusy):
		c.busy++
		return
	case err != nil:
		c.diagnostics++
		c.logger.Debug("scoring diagnostic", "kind", scoring.Kind(err), "error", err)
		c.listener.ScoringDiagnostic(err)
		return
	}

	sample := posture.NewSample(c.sampler.Now(), result)
	c.history = append(c.history, sample)
	update := NewScoreUpdate(sample)
	c.last = &update
	c.listener.ScoreUpdated(update)
}

// Stop ends the session. It is a no-op when Idle. From Live it stops the
// sampler, releases the camera and, if any frames were scored, emits
// SessionEnded with the full history. Stop during acquisition or warm-up
// aborts straight to Idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle || c.state == Stopping {
		return
	}

	prev := c.state
	c.gen++

	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}
	if c.warmup != nil {
		c.warmup.Stop()
		c.warmup = nil
	}
	if prev == Live {
		c.setState(Stopping)
	}

	c.sampler.Stop()
	if c.cancelSession != nil {
		c.cancelSession()
	}
	if c.handle != nil {
		c.source.Release(c.handle)
		c.handle = nil
	}

	if len(c.history) > 0 {
		c.listener.SessionEnded(c.historyLocked())
	}

	c.logger.Info("session stopped",
		"session", c.sessionID,
		"from", prev,
		"samples", len(c.history),
		"ticks", c.ticks)

	c.setState(Idle)
	c.listener.LiveStatusChanged(false)
}

// Toggle starts the session when Idle and stops it otherwise. It returns
// whether a session is active afterwards.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	if c.State() == Idle {
		if err := c.Start(ctx); err != nil {
			return false, err
		}
		return c.State() != Idle, nil
	}
	c.Stop()
	return false, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current or most recent session ID. Unlike the other
// accessors it does not take the controller lock, so listeners may call it.
func (c *Controller) SessionID() string {
	id, _ := c.currentID.Load().(string)
	return id
}

// History returns a copy of the current or most recent session's samples.
func (c *Controller) History() []posture.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyLocked()
}

// Last returns the most recent score update, if any.
func (c *Controller) Last() (ScoreUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ScoreUpdate{}, false
	}
	return *c.last, true
}

// Interval returns the sampling period.
func (c *Controller) Interval() time.Duration {
	return c.config.Interval
}

// Stats returns a snapshot of the controller.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:         c.state,
		Live:          c.state != Idle,
		SessionID:     c.sessionID,
		Samples:       len(c.history),
		Ticks:         c.ticks,
		SkippedFrames: c.skippedFrames,
		Busy:          c.busy,
		Diagnostics:   c.diagnostics,
		StartedAt:     c.startedAt,
		LiveSince:     c.liveSince,
	}
}

func (c *Controller) historyLocked() []posture.Sample {
	out := make([]posture.Sample, len(c.history))
	copy(out, c.history)
	return out
}

// setState must be called with mu held.
func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Debug("state changed", "from", from, "to", to)
	c.listener.StateChanged(from, to)
}
