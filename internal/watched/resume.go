package watched

// ResumePosition is where playback should start for a stored state: the last
// position when it lies inside [0, duration), otherwise 0.
func ResumePosition(s *State, duration int) int {
	if s == nil || duration <= 0 {
		return 0
	}
	if s.LastPosition < 0 || s.LastPosition >= duration {
		return 0
	}
	return s.LastPosition
}
