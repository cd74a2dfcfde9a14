package live

import (
	"time"

	"github.com/teslashibe/sitstraight/pkg/posture"
)

// Listener receives presentation events from the Controller.
//
// Events are delivered synchronously while the controller holds its lock, in
// the order they happen. Implementations must return quickly and must not
// call back into the Controller.
type Listener interface {
	LiveStatusChanged(live bool)
	StateChanged(from, to State)
	ScoreUpdated(u ScoreUpdate)
	SessionEnded(history []posture.Sample)
	CaptureError(err error)
	ScoringDiagnostic(err error)
}

// ScoreUpdate is everything the presentation layer needs to render one
// scored frame.
type ScoreUpdate struct {
	Timestamp time.Time     `json:"timestamp"`
	State     posture.State `json:"state"`
	Score     float64       `json:"score"`
	Slider    float64       `json:"slider"`
	Tilt      float64       `json:"tilt_deg"`
	Timeline  float64       `json:"timeline_pct"`
	Halo      posture.Halo  `json:"halo"`
}

// NewScoreUpdate derives the view values for a sample.
func NewScoreUpdate(s posture.Sample) ScoreUpdate {
	return ScoreUpdate{
		Timestamp: s.Timestamp,
		State:     s.State,
		Score:     s.Score,
		Slider:    posture.Slider(s.Score),
		Tilt:      posture.Tilt(s.Score),
		Timeline:  posture.Timeline(s.Score),
		Halo:      posture.HaloFor(s.State),
	}
}

// StatusText is the status bar caption for the live flag.
func StatusText(live bool) string {
	if live {
		return "Live Mode Active"
	}
	return "Tracking posture"
}

// NopListener ignores all events.
type NopListener struct{}

func (NopListener) LiveStatusChanged(bool)        {}
func (NopListener) StateChanged(State, State)     {}
func (NopListener) ScoreUpdated(ScoreUpdate)      {}
func (NopListener) SessionEnded([]posture.Sample) {}
func (NopListener) CaptureError(error)            {}
func (NopListener) ScoringDiagnostic(error)       {}

// Listeners fans every event out to each listener in order.
type Listeners []Listener

func (ls Listeners) LiveStatusChanged(live bool) {
	for _, l := range ls {
		l.LiveStatusChanged(live)
	}
}

func (ls Listeners) StateChanged(from, to State) {
	for _, l := range ls {
		l.StateChanged(from, to)
	}
}

func (ls Listeners) ScoreUpdated(u ScoreUpdate) {
	for _, l := range ls {
		l.ScoreUpdated(u)
	}
}

func (ls Listeners) SessionEnded(history []posture.Sample) {
	for _, l := range ls {
		l.SessionEnded(history)
	}
}

func (ls Listeners) CaptureError(err error) {
	for _, l := range ls {
		l.CaptureError(err)
	}
}

func (ls Listeners) ScoringDiagnostic(err error) {
	for _, l := range ls {
		l.ScoringDiagnostic(err)
	}
}
