package posture

import "time"

// Summary aggregates one session's history for the dashboard view.
type Summary struct {
	Samples       int            `json:"samples"`
	MeanScore     float64        `json:"mean_score"`
	MinScore      float64        `json:"min_score"`
	MaxScore      float64        `json:"max_score"`
	Counts        map[string]int `json:"counts"`
	LongestStreak int            `json:"longest_aligned_streak"`
	CurrentStreak int            `json:"current_aligned_streak"`
	AlignedTime   time.Duration  `json:"aligned_time_ns"`
	Started       time.Time      `json:"started,omitempty"`
	Ended         time.Time      `json:"ended,omitempty"`
}

// Summarize computes a Summary. interval is the sampling period; each aligned
// sample is credited with one interval of aligned time.
func Summarize(history []Sample, interval time.Duration) Summary {
	s := Summary{
		Counts: map[string]int{
			Aligned.String(): 0,
			Slouch.String():  0,
			Neutral.String(): 0,
			Unknown.String(): 0,
		},
	}
	if len(history) == 0 {
		return s
	}

	s.Samples = len(history)
	s.MinScore = history[0].Score
	s.MaxScore = history[0].Score
	s.Started = history[0].Timestamp
	s.Ended = history[len(history)-1].Timestamp

	var total float64
	streak := 0
	for _, sample := range history {
		total += sample.Score
		if sample.Score < s.MinScore {
			s.MinScore = sample.Score
		}
		if sample.Score > s.MaxScore {
			s.MaxScore = sample.Score
		}
		s.Counts[sample.State.String()]++

		if sample.State == Aligned {
			streak++
			s.AlignedTime += interval
			if streak > s.LongestStreak {
				s.LongestStreak = streak
			}
		} else {
			streak = 0
		}
	}
	s.CurrentStreak = streak
	s.MeanScore = total / float64(len(history))
	return s
}
