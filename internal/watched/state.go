package watched

import (
	"fmt"
	"time"
)

// State is the watched record of one user for one video. ProgressPercentage
// and Completed are derived from Intervals; call Recompute after changing them.
type State struct {
	VideoID            string     `json:"videoId"`
	UserID             string     `json:"userId"`
	Intervals          []Interval `json:"intervals"`
	LastPosition       int        `json:"lastPosition"`
	ProgressPercentage float64    `json:"progressPercentage"`
	Completed          bool       `json:"completed"`
	// PositionTsMs is the request timestamp that last set LastPosition.
	PositionTsMs int64     `json:"positionTsMs"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Empty is the initial state, also what a reset leaves behind.
func Empty(userID, videoID string) State {
	return State{
		VideoID:   videoID,
		UserID:    userID,
		Intervals: []Interval{},
	}
}

// Recompute derives the percentage and completed flag from the intervals.
func (s *State) Recompute(duration int) {
	if s.Intervals == nil {
		s.Intervals = []Interval{}
	}
	s.ProgressPercentage = Percentage(s.Intervals, duration)
	s.Completed = s.ProgressPercentage >= CompletedThreshold
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	out := s
	out.Intervals = make([]Interval, len(s.Intervals))
	copy(out.Intervals, s.Intervals)
	return out
}

// Apply merges already-normalized intervals into the state and moves
// LastPosition if tsMs is not older than the write that last set it.
// Positions past the end are kept as reported; ResumePosition maps them to 0.
func (s *State) Apply(intervals []Interval, position int, tsMs int64, duration int) error {
	merged, err := MergeUnion(s.Intervals, intervals)
	if err != nil {
		return fmt.Errorf("merge intervals: %w", err)
	}
	s.Intervals = merged
	if tsMs >= s.PositionTsMs {
		s.LastPosition = max(position, 0)
		s.PositionTsMs = tsMs
	}
	s.Recompute(duration)
	return nil
}
