package scoring

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds scoring client configuration.
type Config struct {
	// BaseURL of the scoring service, e.g. "http://localhost:5000".
	BaseURL string

	// Path of the scoring endpoint.
	Path string

	// Timeout bounds one scoring call end to end.
	Timeout time.Duration

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// OAuth enables client-credentials auth when non-nil.
	OAuth *clientcredentials.Config

	// TracerProvider overrides the global provider for submit spans.
	TracerProvider trace.TracerProvider

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the service base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithPath sets the endpoint path.
func WithPath(path string) Option {
	return func(c *Config) { c.Path = path }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithClientCredentials enables OAuth2 client-credentials auth.
func WithClientCredentials(clientID, clientSecret, tokenURL string, scopes ...string) Option {
	return func(c *Config) {
		c.OAuth = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
	}
}

// WithTracerProvider sets the tracer provider used for submit spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.TracerProvider = tp }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for a local scoring service.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "http://localhost:5000",
		Path:             "/process",
		Timeout:          5 * time.Second,
		MaxResponseBytes: 64 * 1024,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
