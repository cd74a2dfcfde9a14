// Package posture defines the posture classification types shared by the
// scoring client, the live session controller and the dashboard.
package posture

import (
	"strings"
	"time"
)

// State is the posture classification returned by the scoring service.
type State int

const (
	Unknown State = iota
	Aligned
	Slouch
	Neutral
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Aligned:
		return "aligned"
	case Slouch:
		return "slouch"
	case Neutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states serialize by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Unrecognized names decode to Unknown rather than failing.
func (s *State) UnmarshalText(text []byte) error {
	*s = ParseState(string(text))
	return nil
}

// ParseState maps the service's textual state to a State.
// Missing or unrecognized values map to Unknown.
func ParseState(v string) State {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "aligned":
		return Aligned
	case "slouch":
		return Slouch
	case "neutral":
		return Neutral
	default:
		return Unknown
	}
}

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Result is one normalized scoring response.
type Result struct {
	State State   `json:"state"`
	Score float64 `json:"score"`
}

// Sample is one successfully scored frame. Samples are values and are never
// mutated after creation.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	State     State     `json:"state"`
}

// NewSample stamps a result with the given time.
func NewSample(at time.Time, r Result) Sample {
	return Sample{Timestamp: at, Score: r.Score, State: r.State}
}
