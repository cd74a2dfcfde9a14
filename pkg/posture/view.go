package posture

import "math"

// Halo is the visual treatment for a posture state.
type Halo struct {
	Label  string `json:"label"`
	Border string `json:"border"`
	Glow   string `json:"glow"`
}

var halos = map[State]Halo{
	Aligned: {Label: "Aligned", Border: "rgba(78, 211, 139, 0.4)", Glow: "0 0 20px rgba(78, 211, 139, 0.4)"},
	Slouch:  {Label: "Slouching", Border: "rgba(255, 106, 106, 0.6)", Glow: "0 0 20px rgba(255, 106, 106, 0.5)"},
	Neutral: {Label: "Neutral", Border: "rgba(255, 207, 102, 0.4)", Glow: "0 0 20px rgba(255, 207, 102, 0.4)"},
	Unknown: {Label: "No body detected", Border: "rgba(180, 180, 180, 0.4)", Glow: "0 0 20px rgba(180, 180, 180, 0.3)"},
}

// HaloFor returns the halo for a state. Only Aligned gets the aligned halo.
func HaloFor(s State) Halo {
	if h, ok := halos[s]; ok {
		return h
	}
	return halos[Unknown]
}

// Slider maps a 0-100 score onto the posture slider range [-1, 1].
func Slider(score float64) float64 {
	return clamp((score-50)/50, -1, 1)
}

// Tilt returns the spine tilt in degrees. Positive leans toward slouch.
func Tilt(score float64) float64 {
	return (50 - score) / 5
}

// Timeline returns the timeline indicator offset as a percentage.
func Timeline(score float64) float64 {
	return score
}

// ClampScore forces a score into [MinScore, MaxScore]. NaN becomes MinScore.
func ClampScore(score float64) float64 {
	if math.IsNaN(score) {
		return MinScore
	}
	return clamp(score, MinScore, MaxScore)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
