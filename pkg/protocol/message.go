// Package protocol defines the WebSocket messages pushed to live session
// viewers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/sitstraight/pkg/posture"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → viewer messages
	TypeLiveStatus        MessageType = "live_status"        // Live flag toggled
	TypeState             MessageType = "state"              // Session state transition
	TypeScore             MessageType = "score"              // One scored frame
	TypeSessionEnded      MessageType = "session_ended"      // Full history of a finished session
	TypeCaptureError      MessageType = "capture_error"      // Camera could not be acquired
	TypeScoringDiagnostic MessageType = "scoring_diagnostic" // A frame failed to score
	TypeHello             MessageType = "hello"              // Snapshot sent on connect

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// LiveStatusData reports whether a session is active.
type LiveStatusData struct {
	Live bool   `json:"live"`
	Text string `json:"text"` // status bar caption
}

// StateData reports a controller transition.
type StateData struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
}

// ScoreData carries one scored frame and its derived view values.
type ScoreData struct {
	Timestamp   int64   `json:"ts"` // Unix milliseconds
	State       string  `json:"state"`
	Score       float64 `json:"score"`        // 0-100
	Slider      float64 `json:"slider"`       // -1 to 1
	TiltDeg     float64 `json:"tilt_deg"`     // spine tilt
	TimelinePct float64 `json:"timeline_pct"` // marker position
	Label       string  `json:"label"`
	Border      string  `json:"border"`
	Glow        string  `json:"glow"`
}

// SampleData is one history entry.
type SampleData struct {
	Timestamp int64   `json:"ts"`
	Score     float64 `json:"score"`
	State     string  `json:"state"`
}

// SessionEndedData carries a finished session.
type SessionEndedData struct {
	SessionID string          `json:"session_id,omitempty"`
	Samples   []SampleData    `json:"samples"`
	Summary   posture.Summary `json:"summary"`
}

// ErrorData describes a capture error or scoring diagnostic.
type ErrorData struct {
	Kind    string `json:"kind"` // "denied", "network", "decode", ...
	Message string `json:"message"`
}

// HelloData is the snapshot a viewer gets when it connects.
type HelloData struct {
	State     string     `json:"state"`
	Live      bool       `json:"live"`
	Text      string     `json:"text"`
	SessionID string     `json:"session_id,omitempty"`
	Last      *ScoreData `json:"last,omitempty"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
