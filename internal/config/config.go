// Package config loads sitstraight process configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. Every field can be set through a
// SITSTRAIGHT_* environment variable and overridden by a command-line flag.
type Config struct {
	// Web server
	Addr      string `env:"SITSTRAIGHT_ADDR" envDefault:":8080"`
	StaticDir string `env:"SITSTRAIGHT_STATIC_DIR"`

	// Session timing
	Interval time.Duration `env:"SITSTRAIGHT_INTERVAL" envDefault:"350ms"`
	WarmUp   time.Duration `env:"SITSTRAIGHT_WARMUP" envDefault:"800ms"`

	// Camera
	DeviceID      int           `env:"SITSTRAIGHT_DEVICE" envDefault:"0"`
	Width         int           `env:"SITSTRAIGHT_WIDTH" envDefault:"1280"`
	Height        int           `env:"SITSTRAIGHT_HEIGHT" envDefault:"720"`
	Framerate     int           `env:"SITSTRAIGHT_FRAMERATE" envDefault:"30"`
	JPEGQuality   int           `env:"SITSTRAIGHT_JPEG_QUALITY" envDefault:"80"`
	ReadyTimeout  time.Duration `env:"SITSTRAIGHT_READY_TIMEOUT" envDefault:"10s"`
	UseMockCamera bool          `env:"SITSTRAIGHT_MOCK_CAMERA"`

	// Scoring service
	ScoringURL     string        `env:"SITSTRAIGHT_SCORING_URL" envDefault:"http://localhost:5000"`
	ScoringTimeout time.Duration `env:"SITSTRAIGHT_SCORING_TIMEOUT" envDefault:"5s"`
	ClientID       string        `env:"SITSTRAIGHT_SCORING_CLIENT_ID"`
	ClientSecret   string        `env:"SITSTRAIGHT_SCORING_CLIENT_SECRET"`
	TokenURL       string        `env:"SITSTRAIGHT_SCORING_TOKEN_URL"`
	Scopes         []string      `env:"SITSTRAIGHT_SCORING_SCOPES" envSeparator:","`

	// Observability
	LogLevel     string `env:"SITSTRAIGHT_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"SITSTRAIGHT_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"SITSTRAIGHT_OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// OAuthEnabled reports whether client-credentials auth is configured for the
// scoring service.
func (c Config) OAuthEnabled() bool {
	return c.ClientID != "" && c.TokenURL != ""
}

// Validate checks the values that have no sensible fallback.
func (c Config) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.WarmUp < 0 {
		errs = append(errs, fmt.Errorf("warm-up must not be negative, got %v", c.WarmUp))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be 1-100, got %d", c.JPEGQuality))
	}
	if u, err := url.Parse(c.ScoringURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid scoring url %q", c.ScoringURL))
	}
	if (c.ClientID == "") != (c.TokenURL == "") {
		errs = append(errs, errors.New("scoring client id and token url must be set together"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
