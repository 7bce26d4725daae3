// Package watched holds the watched-interval engine: the interval type, the
// canonical merge, progress arithmetic and resume resolution. Everything here
// is pure and shared by the progress service and the playback client.
package watched

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidInterval is returned for intervals whose start lies after their end
// or before zero.
var ErrInvalidInterval = errors.New("invalid interval")

// Interval is an inclusive range of whole seconds that were actually played.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len is the number of seconds covered, end inclusive.
func (iv Interval) Len() int { return iv.End - iv.Start + 1 }

func (iv Interval) String() string { return fmt.Sprintf("[%d,%d]", iv.Start, iv.End) }

// Validate reports ErrInvalidInterval for start > end or a negative start.
func (iv Interval) Validate() error {
	if iv.Start < 0 || iv.Start > iv.End {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, iv)
	}
	return nil
}

// Merge returns the canonical form of intervals: sorted by start and with
// overlapping or touching ranges (next.Start <= last.End+1) collapsed.
// The input slice is not modified. Clamping to the video duration is the
// caller's job, see Normalize.
func Merge(intervals []Interval) ([]Interval, error) {
	if len(intervals) == 0 {
		return []Interval{}, nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	for _, iv := range sorted {
		if err := iv.Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := make([]Interval, 0, len(sorted))
	out = append(out, sorted[0])
	for _, cur := range sorted[1:] {
		last := &out[len(out)-1]
		if cur.Start <= last.End+1 {
			if cur.End > last.End {
				last.End = cur.End
			}
			continue
		}
		out = append(out, cur)
	}
	return out, nil
}

// MergeUnion merges the union of several interval sets.
func MergeUnion(sets ...[]Interval) ([]Interval, error) {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	all := make([]Interval, 0, n)
	for _, s := range sets {
		all = append(all, s...)
	}
	return Merge(all)
}

// Rejection reasons reported by Normalize.
const (
	ReasonStartAfterEnd   = "start_after_end"
	ReasonUnknownDuration = "unknown_duration"
	ReasonOutOfRange      = "out_of_range"
)

// Rejection describes one interval dropped from a batch.
type Rejection struct {
	Index    int      `json:"index"`
	Interval Interval `json:"interval"`
	Reason   string   `json:"reason"`
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%v: #%d %s (%s)", ErrInvalidInterval, r.Index, r.Interval, r.Reason)
}

// Unwrap lets errors.Is(rejection, ErrInvalidInterval) match.
func (r Rejection) Unwrap() error { return ErrInvalidInterval }

// Normalize clamps every interval to [0, duration-1] and drops the ones that
// cannot be made valid. A bad interval never fails the rest of the batch.
func Normalize(intervals []Interval, duration int) ([]Interval, []Rejection) {
	valid := make([]Interval, 0, len(intervals))
	var rejected []Rejection
	for i, iv := range intervals {
		switch {
		case iv.Start > iv.End:
			rejected = append(rejected, Rejection{Index: i, Interval: iv, Reason: ReasonStartAfterEnd})
			continue
		case duration <= 0:
			rejected = append(rejected, Rejection{Index: i, Interval: iv, Reason: ReasonUnknownDuration})
			continue
		}
		c := Interval{Start: max(iv.Start, 0), End: min(iv.End, duration-1)}
		if c.Start > c.End {
			rejected = append(rejected, Rejection{Index: i, Interval: iv, Reason: ReasonOutOfRange})
			continue
		}
		valid = append(valid, c)
	}
	return valid, rejected
}
