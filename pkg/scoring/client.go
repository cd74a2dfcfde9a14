// Package scoring submits camera frames to the posture scoring service.
//
// The client allows at most one request in flight. A Submit that arrives
// while another is pending returns ErrBusy immediately and the frame is
// dropped; nothing is queued.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/teslashibe/sitstraight/internal/httpc"
	"github.com/teslashibe/sitstraight/pkg/posture"
)

const (
	formField = "frame"
	fileName  = "frame.jpg"
)

// Stats reports client counters.
type Stats struct {
	Submitted   uint64 `json:"submitted"`
	Succeeded   uint64 `json:"succeeded"`
	Busy        uint64 `json:"busy"`
	Failed      uint64 `json:"failed"`
	LastLatency int64  `json:"last_latency_ms"`
}

// Client posts frames to the scoring endpoint.
type Client struct {
	endpoint string
	maxBody  int64
	http     *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer

	pending atomic.Bool

	submitted   atomic.Uint64
	succeeded   atomic.Uint64
	busy        atomic.Uint64
	failed      atomic.Uint64
	lastLatency atomic.Int64
}

// NewClient creates a scoring client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("scoring: invalid base URL %q", cfg.BaseURL)
	}
	path := cfg.Path
	if path == "" {
		path = "/process"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}
	if cfg.OAuth != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		authed := cfg.OAuth.Client(ctx)
		authed.Timeout = hc.Timeout
		hc = authed
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultConfig().MaxResponseBytes
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		endpoint: base.String() + path,
		maxBody:  maxBody,
		http:     hc,
		logger:   logger.With("component", "scoring"),
		tracer:   tp.Tracer("github.com/teslashibe/sitstraight/pkg/scoring"),
	}, nil
}

// Endpoint returns the full scoring URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Pending reports whether a request is in flight.
func (c *Client) Pending() bool {
	return c.pending.Load()
}

// Submit scores one JPEG frame. It returns ErrBusy without blocking when a
// request is already pending. The pending flag is cleared on every return
// path of the call that set it.
func (c *Client) Submit(ctx context.Context, jpeg []byte) (posture.Result, error) {
	if !c.pending.CompareAndSwap(false, true) {
		c.busy.Add(1)
		return posture.Result{}, ErrBusy
	}
	defer c.pending.Store(false)

	c.submitted.Add(1)
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "scoring.submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("frame.bytes", len(jpeg))))
	defer span.End()

	result, err := c.do(ctx, span, jpeg)
	latency := time.Since(start)
	c.lastLatency.Store(latency.Milliseconds())

	if err != nil {
		c.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
		c.logger.Debug("scoring failed", "error", err, "latency", latency)
		return posture.Result{}, err
	}

	c.succeeded.Add(1)
	span.SetAttributes(
		attribute.String("posture.state", result.State.String()),
		attribute.Float64("posture.score", result.Score))
	c.logger.Debug("frame scored",
		"state", result.State,
		"score", result.Score,
		"latency", latency)
	return result, nil
}

func (c *Client) do(ctx context.Context, span trace.Span, jpeg []byte) (posture.Result, error) {
	body, contentType, err := encodeFrame(jpeg)
	if err != nil {
		return posture.Result{}, fmt.Errorf("%w: encode form: %v", ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return posture.Result{}, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return posture.Result{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return posture.Result{}, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return posture.Result{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet(data),
		}
	}

	return decodeResult(data)
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Submitted:   c.submitted.Load(),
		Succeeded:   c.succeeded.Load(),
		Busy:        c.busy.Load(),
		Failed:      c.failed.Load(),
		LastLatency: c.lastLatency.Load(),
	}
}

// encodeFrame builds a multipart body with a single JPEG part named "frame".
func encodeFrame(jpeg []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, fileName))
	h.Set("Content-Type", "image/jpeg")

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeResult parses {"state": string, "score": number}. Missing or null
// fields take their defaults; fields of the wrong type are a decode error.
func decodeResult(data []byte) (posture.Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return posture.Result{}, fmt.Errorf("%w: expected JSON object: %s", ErrDecode, snippet(data))
	}

	result := posture.Result{State: posture.Unknown}

	if v, ok := raw["state"]; ok && !isNull(v) {
		var state string
		if err := json.Unmarshal(v, &state); err != nil {
			return posture.Result{}, fmt.Errorf("%w: state is not a string", ErrDecode)
		}
		result.State = posture.ParseState(state)
	}

	if v, ok := raw["score"]; ok && !isNull(v) {
		var score float64
		if err := json.Unmarshal(v, &score); err != nil {
			return posture.Result{}, fmt.Errorf("%w: score is not a number", ErrDecode)
		}
		result.Score = posture.ClampScore(score)
	}

	return result, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 128 {
		s = s[:128] + "..."
	}
	return s
}
