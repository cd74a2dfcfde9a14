package protocol

import (
	"time"

	"github.com/teslashibe/sitstraight/pkg/posture"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewLiveStatusMessage creates a live status message
func NewLiveStatusMessage(live bool, text string) (*Message, error) {
	return NewMessage(TypeLiveStatus, LiveStatusData{Live: live, Text: text})
}

// NewStateMessage creates a state transition message
func NewStateMessage(from, to, sessionID string) (*Message, error) {
	return NewMessage(TypeState, StateData{From: from, To: to, SessionID: sessionID})
}

// NewScoreData derives the view values for a scored sample.
func NewScoreData(s posture.Sample) ScoreData {
	halo := posture.HaloFor(s.State)
	return ScoreData{
		Timestamp:   millis(s.Timestamp),
		State:       s.State.String(),
		Score:       s.Score,
		Slider:      posture.Slider(s.Score),
		TiltDeg:     posture.Tilt(s.Score),
		TimelinePct: posture.Timeline(s.Score),
		Label:       halo.Label,
		Border:      halo.Border,
		Glow:        halo.Glow,
	}
}

// NewScoreMessage creates a score message
func NewScoreMessage(s posture.Sample) (*Message, error) {
	return NewMessage(TypeScore, NewScoreData(s))
}

// NewSessionEndedMessage creates a session ended message with the full
// history and its summary.
func NewSessionEndedMessage(sessionID string, history []posture.Sample, interval time.Duration) (*Message, error) {
	samples := make([]SampleData, len(history))
	for i, s := range history {
		samples[i] = SampleData{
			Timestamp: millis(s.Timestamp),
			Score:     s.Score,
			State:     s.State.String(),
		}
	}
	return NewMessage(TypeSessionEnded, SessionEndedData{
		SessionID: sessionID,
		Samples:   samples,
		Summary:   posture.Summarize(history, interval),
	})
}

// NewErrorMessage creates a capture error or scoring diagnostic message
func NewErrorMessage(msgType MessageType, kind string, err error) (*Message, error) {
	data := ErrorData{Kind: kind}
	if err != nil {
		data.Message = err.Error()
	}
	return NewMessage(msgType, data)
}

// NewHelloMessage creates the on-connect snapshot
func NewHelloMessage(data HelloData) (*Message, error) {
	return NewMessage(TypeHello, data)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetLiveStatusData extracts live status data from a message
func (m *Message) GetLiveStatusData() (*LiveStatusData, error) {
	var data LiveStatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetScoreData extracts score data from a message
func (m *Message) GetScoreData() (*ScoreData, error) {
	var data ScoreData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSessionEndedData extracts session ended data from a message
func (m *Message) GetSessionEndedData() (*SessionEndedData, error) {
	var data SessionEndedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetHelloData extracts hello data from a message
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
