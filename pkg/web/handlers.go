package web

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/sitstraight/pkg/hub"
	"github.com/teslashibe/sitstraight/pkg/live"
	"github.com/teslashibe/sitstraight/pkg/posture"
	"github.com/teslashibe/sitstraight/pkg/protocol"
)

// LiveResponse is returned by the toggle, start and stop endpoints.
type LiveResponse struct {
	Live      bool   `json:"live"`
	State     string `json:"state"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	LiveResponse
	Last    *protocol.ScoreData `json:"last,omitempty"`
	Stats   live.Stats          `json:"stats"`
	Viewers int                 `json:"viewers"`
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	SessionID  string           `json:"session_id,omitempty"`
	IntervalMs int64            `json:"interval_ms"`
	Samples    []posture.Sample `json:"samples"`
}

// handleToggle starts a session when idle and stops it otherwise
func (s *Server) handleToggle(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if _, err := s.ctrl.Toggle(ctx); err != nil {
		return s.captureFailure(c, err)
	}
	return c.JSON(s.liveResponse())
}

// handleStart starts a session; it is a no-op if one is active
func (s *Server) handleStart(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.ctrl.Start(ctx); err != nil {
		return s.captureFailure(c, err)
	}
	return c.JSON(s.liveResponse())
}

// handleStop stops the session; it is a no-op when idle
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.ctrl.Stop()
	return c.JSON(s.liveResponse())
}

// handleStatus returns the controller state and the last score
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		LiveResponse: s.liveResponse(),
		Stats:        s.ctrl.Stats(),
		Viewers:      s.events.ClientCount(),
	}
	if u, ok := s.ctrl.Last(); ok {
		last := scoreData(u)
		resp.Last = &last
	}
	return c.JSON(resp)
}

// handleHistory returns the current or most recent session's samples
func (s *Server) handleHistory(c *fiber.Ctx) error {
	history := s.ctrl.History()
	if history == nil {
		history = []posture.Sample{}
	}
	return c.JSON(HistoryResponse{
		SessionID:  s.ctrl.SessionID(),
		IntervalMs: s.ctrl.Interval().Milliseconds(),
		Samples:    history,
	})
}

// handleSummary returns aggregate stats for the dashboard
func (s *Server) handleSummary(c *fiber.Ctx) error {
	return c.JSON(posture.Summarize(s.ctrl.History(), s.ctrl.Interval()))
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	if s.bc == nil {
		return c.JSON([]LogEntry{})
	}
	return c.JSON(s.bc.Logs())
}

// handleEventsWS streams session events. The first message is a hello
// snapshot of the current state.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	hello, err := protocol.NewHelloMessage(s.helloData())
	if err != nil {
		s.logger.Warn("failed to build hello", "error", err)
		hello = nil
	}

	client := hub.NewClient(s.events, conn, hello)
	if client == nil {
		conn.Close()
		return
	}
	client.Run()
}

func (s *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.config.AcquireTimeout)
}

func (s *Server) captureFailure(c *fiber.Ctx, err error) error {
	s.logger.Warn("session start failed", "error", err)
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  captureKind(err),
		"live":  false,
		"state": s.ctrl.State().String(),
	})
}

func (s *Server) liveResponse() LiveResponse {
	state := s.ctrl.State()
	active := state != live.Idle
	return LiveResponse{
		Live:      active,
		State:     state.String(),
		Text:      live.StatusText(active),
		SessionID: s.ctrl.SessionID(),
	}
}

func (s *Server) helloData() protocol.HelloData {
	resp := s.liveResponse()
	data := protocol.HelloData{
		State:     resp.State,
		Live:      resp.Live,
		Text:      resp.Text,
		SessionID: resp.SessionID,
	}
	if u, ok := s.ctrl.Last(); ok {
		last := scoreData(u)
		data.Last = &last
	}
	return data
}

func scoreData(u live.ScoreUpdate) protocol.ScoreData {
	return protocol.NewScoreData(posture.Sample{
		Timestamp: u.Timestamp,
		Score:     u.Score,
		State:     u.State,
	})
}
