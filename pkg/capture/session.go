package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Session defaults.
const (
	DefaultReadyPollInterval = 20 * time.Millisecond
	DefaultReadyTimeout      = 10 * time.Second
	DefaultQuality           = 85
)

// Config holds session configuration.
type Config struct {
	Constraints Constraints

	// ReadyPollInterval is how often Acquire checks stream dimensions.
	ReadyPollInterval time.Duration

	// ReadyTimeout bounds how long Acquire waits for nonzero dimensions.
	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// Option configures a Session.
type Option func(*Config)

// WithConstraints sets the requested stream constraints.
func WithConstraints(c Constraints) Option {
	return func(cfg *Config) { cfg.Constraints = c }
}

// WithReadyPoll sets the readiness poll interval and timeout.
func WithReadyPoll(interval, timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.ReadyPollInterval = interval
		cfg.ReadyTimeout = timeout
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		Constraints:       Constraints{Quality: DefaultQuality},
		ReadyPollInterval: DefaultReadyPollInterval,
		ReadyTimeout:      DefaultReadyTimeout,
		Logger:            slog.Default(),
	}
}

// Frame is a JPEG still taken from a stream.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Handle is exclusive ownership of one acquired stream.
type Handle struct {
	id         uint64
	stream     Stream
	width      int
	height     int
	acquiredAt time.Time

	mu       sync.RWMutex
	released bool
}

// ID returns the acquisition sequence number.
func (h *Handle) ID() uint64 { return h.id }

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

// Session acquires and releases streams from a Device.
type Session struct {
	device Device
	config *Config
	logger *slog.Logger

	seq      atomic.Uint64
	released atomic.Uint64

	mu            sync.RWMutex
	surfaceWidth  int
	surfaceHeight int
}

// NewSession creates a capture session for device.
func NewSession(device Device, opts ...Option) *Session {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	def := DefaultConfig()
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = def.ReadyPollInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Session{
		device: device,
		config: cfg,
		logger: cfg.Logger.With("component", "capture"),
	}
}

// Acquire opens the device and waits until the stream reports nonzero frame
// dimensions. Open failures and readiness timeouts wrap ErrDenied. If ctx is
// cancelled the stream is closed and ctx's error is returned.
func (s *Session) Acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()

	stream, err := s.device.Open(ctx, s.config.Constraints)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDenied, err)
	}

	width, height, err := s.waitReady(ctx, stream)
	if err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			s.logger.Warn("close after failed acquire", "error", closeErr)
		}
		return nil, err
	}

	h := &Handle{
		id:         s.seq.Add(1),
		stream:     stream,
		width:      width,
		height:     height,
		acquiredAt: time.Now(),
	}

	s.mu.Lock()
	s.surfaceWidth, s.surfaceHeight = width, height
	s.mu.Unlock()

	s.logger.Info("device ready",
		"handle", h.id,
		"width", width,
		"height", height,
		"took", time.Since(start))
	return h, nil
}

func (s *Session) waitReady(ctx context.Context, stream Stream) (int, int, error) {
	if w, h := stream.Dimensions(); w > 0 && h > 0 {
		return w, h, nil
	}

	ticker := time.NewTicker(s.config.ReadyPollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(s.config.ReadyTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-timeout.C:
			return 0, 0, fmt.Errorf("%w: no frames after %v", ErrDenied, s.config.ReadyTimeout)
		case <-ticker.C:
			if w, h := stream.Dimensions(); w > 0 && h > 0 {
				return w, h, nil
			}
		}
	}
}

// ExtractFrame returns the stream's latest frame. It never blocks: a
// released handle, a zero-dimension stream or an empty snapshot all fail
// fast with ErrNotReady.
func (s *Session) ExtractFrame(h *Handle) (Frame, error) {
	if h == nil {
		return Frame{}, ErrNotReady
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.released {
		return Frame{}, ErrNotReady
	}

	width, height := h.stream.Dimensions()
	if width == 0 || height == 0 {
		return Frame{}, ErrNotReady
	}

	data, err := h.stream.Snapshot()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if len(data) == 0 {
		return Frame{}, ErrNotReady
	}

	return Frame{
		Data:       data,
		Width:      width,
		Height:     height,
		CapturedAt: time.Now(),
	}, nil
}

// Release stops the stream. It is safe to call more than once and with a nil
// handle.
func (s *Session) Release(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	if err := h.stream.Close(); err != nil {
		s.logger.Warn("stream close failed", "handle", h.id, "error", err)
	}
	s.released.Add(1)

	s.logger.Info("device released",
		"handle", h.id,
		"held", time.Since(h.acquiredAt).Round(time.Millisecond))
}

// Surface returns the rendering surface size, which tracks the resolution of
// the most recently acquired stream.
func (s *Session) Surface() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.surfaceWidth, s.surfaceHeight
}

// Acquisitions returns how many streams have been acquired and released.
func (s *Session) Acquisitions() (acquired, released uint64) {
	return s.seq.Load(), s.released.Load()
}
