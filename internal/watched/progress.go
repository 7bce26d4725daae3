package watched

// CompletedThreshold is the percentage at which a video counts as completed.
const CompletedThreshold = 90.0

// UniqueSeconds sums the inclusive length of intervals. The result only means
// "unique" for merged input.
func UniqueSeconds(intervals []Interval) int {
	total := 0
	for _, iv := range intervals {
		total += iv.Len()
	}
	return total
}

// Percentage is the share of duration covered by intervals, clamped to
// [0, 100]. A non-positive duration yields 0.
func Percentage(intervals []Interval, duration int) float64 {
	if duration <= 0 {
		return 0
	}
	p := float64(UniqueSeconds(intervals)) * 100 / float64(duration)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
