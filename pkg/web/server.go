// Package web serves the live session over HTTP: toggle endpoints, status and
// history queries, and a websocket stream of session events.
package web

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/sitstraight/pkg/hub"
	"github.com/teslashibe/sitstraight/pkg/live"
	"github.com/teslashibe/sitstraight/pkg/posture"
)

// Controller is the part of *live.Controller the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Toggle(ctx context.Context) (bool, error)
	State() live.State
	SessionID() string
	History() []posture.Sample
	Last() (live.ScoreUpdate, bool)
	Interval() time.Duration
	Stats() live.Stats
}

// Config configures the server.
type Config struct {
	Addr           string        // listen address, e.g. ":8080"
	StaticDir      string        // optional directory served at "/"
	AcquireTimeout time.Duration // upper bound on a start request
	Logger         *slog.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		AcquireTimeout: 15 * time.Second,
		Logger:         slog.Default(),
	}
}

// Server is the HTTP and websocket front end for one Controller.
type Server struct {
	app    *fiber.App
	config Config
	logger *slog.Logger

	ctrl   Controller
	events *hub.Hub
	bc     *Broadcaster
}

// NewServer creates a server for ctrl. events must be the hub bc publishes
// on; the server runs it.
func NewServer(cfg Config, ctrl Controller, events *hub.Hub, bc *Broadcaster) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "web"),
		ctrl:   ctrl,
		events: events,
		bc:     bc,
	}

	app := fiber.New(fiber.Config{
		AppName:               "SitStraight",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/live/toggle", s.handleToggle)
	api.Post("/live/start", s.handleStart)
	api.Post("/live/stop", s.handleStop)
	api.Get("/status", s.handleStatus)
	api.Get("/history", s.handleHistory)
	api.Get("/summary", s.handleSummary)
	api.Get("/logs", s.handleGetLogs)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the event hub and serves on the configured address until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.events.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown failed", "error", err)
		}
	}()

	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
