// SitStraight - live posture monitoring service
// Samples the webcam on a fixed cadence, scores each frame remotely and
// streams the results to the browser over websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/sitstraight/internal/config"
	"github.com/teslashibe/sitstraight/internal/log"
	"github.com/teslashibe/sitstraight/internal/telemetry"
	"github.com/teslashibe/sitstraight/pkg/capture"
	"github.com/teslashibe/sitstraight/pkg/hub"
	"github.com/teslashibe/sitstraight/pkg/live"
	"github.com/teslashibe/sitstraight/pkg/sampler"
	"github.com/teslashibe/sitstraight/pkg/scoring"
	"github.com/teslashibe/sitstraight/pkg/web"
)

var version = "dev"

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}

	logger := log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the environment and lets command line flags override it.
func parseFlags(args []string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	fs := flag.NewFlagSet("sitstraight", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Directory of static web assets to serve at /")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Time between scored frames")
	fs.DurationVar(&cfg.WarmUp, "warmup", cfg.WarmUp, "Delay between camera ready and first frame")
	fs.IntVar(&cfg.DeviceID, "device", cfg.DeviceID, "Camera device index")
	fs.BoolVar(&cfg.UseMockCamera, "mock-camera", cfg.UseMockCamera, "Use a synthetic camera instead of the webcam")
	fs.StringVar(&cfg.ScoringURL, "scoring-url", cfg.ScoringURL, "Base URL of the scoring service")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	debug := fs.Bool("debug", false, "Shorthand for -log-level=debug")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "sitstraight",
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	session := capture.NewSession(newDevice(cfg, logger),
		capture.WithConstraints(capture.Constraints{
			Width:     cfg.Width,
			Height:    cfg.Height,
			Framerate: cfg.Framerate,
			Quality:   cfg.JPEGQuality,
		}),
		capture.WithReadyPoll(capture.DefaultReadyPollInterval, cfg.ReadyTimeout),
		capture.WithLogger(logger),
	)

	scorer, err := scoring.NewClient(scoringOptions(cfg, logger)...)
	if err != nil {
		return err
	}

	events := hub.New("events", logger)
	bc := web.NewBroadcaster(events, cfg.Interval, logger)

	ctrl := live.New(live.Config{
		Interval: cfg.Interval,
		WarmUp:   cfg.WarmUp,
		Logger:   logger,
	}, session, scorer, sampler.New(sampler.RealClock{}, logger), bc)
	bc.SessionID = ctrl.SessionID
	defer ctrl.Stop()

	server := web.NewServer(web.Config{
		Addr:      cfg.Addr,
		StaticDir: cfg.StaticDir,
		Logger:    logger,
	}, ctrl, events, bc)

	logger.Info("sitstraight starting",
		"version", version,
		"addr", cfg.Addr,
		"scoring", scorer.Endpoint(),
		"interval", cfg.Interval,
		"warmup", cfg.WarmUp,
		"mock_camera", cfg.UseMockCamera,
		"tracing", cfg.OTelEnabled && cfg.OTelEndpoint != "")

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newDevice(cfg config.Config, logger *slog.Logger) capture.Device {
	if cfg.UseMockCamera {
		return capture.NewMock(cfg.Width, cfg.Height)
	}
	return capture.NewWebcam(cfg.DeviceID, logger)
}

func scoringOptions(cfg config.Config, logger *slog.Logger) []scoring.Option {
	opts := []scoring.Option{
		scoring.WithBaseURL(cfg.ScoringURL),
		scoring.WithTimeout(cfg.ScoringTimeout),
		scoring.WithLogger(logger),
	}
	if cfg.OAuthEnabled() {
		opts = append(opts, scoring.WithClientCredentials(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, cfg.Scopes...))
	}
	return opts
}
