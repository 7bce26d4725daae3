// Package playback turns raw player callbacks into watched intervals.
package playback

import (
	"math"

	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/watched"
)

// Events is what a player adapter drives. Times are playback positions in
// seconds as reported by the player.
type Events interface {
	OnPlay(at float64)
	OnPause(at float64)
	OnSeek(target float64)
	OnTick(at float64)
	OnEnded(at float64)
}

// Snapshot is the data a sync needs: every interval not yet acknowledged by
// the server (the open one included) and the current position.
type Snapshot struct {
	Intervals []watched.Interval
	// Pending counts the closed intervals at the head of Intervals; pass it
	// back to Ack once the server accepted them.
	Pending      int
	LastPosition int
	Tracking     bool
}

// Tracker is the Idle/Tracking state machine. It is not safe for concurrent
// use; callers serialize access.
type Tracker struct {
	duration int
	log      *zap.Logger

	tracking bool
	anchor   int
	end      int
	position int

	pending []watched.Interval
	local   []watched.Interval
}

var _ Events = (*Tracker)(nil)

// NewTracker creates an idle tracker for a video of the given duration in
// seconds. A nil logger is replaced with a no-op one.
func NewTracker(duration int, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{duration: duration, log: log, local: []watched.Interval{}}
}

// SetDuration updates the clamp bound once the player knows the real length.
func (t *Tracker) SetDuration(duration int) { t.duration = duration }

func (t *Tracker) Duration() int { return t.duration }

func (t *Tracker) Tracking() bool { return t.tracking }

func (t *Tracker) Position() int { return t.position }

func (t *Tracker) OnPlay(at float64) {
	sec := toSeconds(at)
	t.position = sec
	if t.tracking {
		return
	}
	t.open(sec)
}

func (t *Tracker) OnPause(at float64) {
	sec := toSeconds(at)
	t.position = sec
	t.close(sec)
}

func (t *Tracker) OnEnded(at float64) { t.OnPause(at) }

// OnSeek closes the open interval at the last observed position so the skipped
// range is not credited, then keeps tracking from target.
func (t *Tracker) OnSeek(target float64) {
	sec := toSeconds(target)
	if t.tracking {
		t.close(t.end)
		t.open(sec)
	}
	t.position = sec
}

// OnTick extends the open interval without closing it.
func (t *Tracker) OnTick(at float64) {
	sec := toSeconds(at)
	t.position = sec
	if t.tracking && sec > t.end {
		t.end = sec
	}
}

// Teardown closes the open interval when the owning component goes away.
func (t *Tracker) Teardown(at float64) {
	sec := toSeconds(at)
	if sec < t.end {
		sec = t.end
	}
	t.position = sec
	t.close(sec)
}

func (t *Tracker) open(sec int) {
	t.tracking = true
	t.anchor = sec
	t.end = sec
}

func (t *Tracker) close(sec int) {
	if !t.tracking {
		return
	}
	t.tracking = false
	// ticks already credited up to t.end, which never falls below anchor
	end := max(sec, t.end)
	t.emit(watched.Interval{Start: t.anchor, End: end})
}

func (t *Tracker) emit(iv watched.Interval) {
	valid, rejected := watched.Normalize([]watched.Interval{iv}, t.duration)
	for _, r := range rejected {
		t.log.Warn("playback: interval rejected",
			zap.Stringer("interval", r.Interval),
			zap.String("reason", r.Reason),
			zap.Int("duration", t.duration))
	}
	if len(valid) == 0 {
		return
	}
	t.pending = append(t.pending, valid...)
	merged, err := watched.MergeUnion(t.local, valid)
	if err != nil {
		t.log.Warn("playback: local merge failed", zap.Error(err))
		return
	}
	t.local = merged
}

// openInterval is the provisional interval while tracking, clamped.
func (t *Tracker) openInterval() (watched.Interval, bool) {
	if !t.tracking {
		return watched.Interval{}, false
	}
	valid, _ := watched.Normalize([]watched.Interval{{Start: t.anchor, End: t.end}}, t.duration)
	if len(valid) == 0 {
		return watched.Interval{}, false
	}
	return valid[0], true
}

// Local is the locally merged view, including the open interval.
func (t *Tracker) Local() []watched.Interval {
	open, ok := t.openInterval()
	if !ok {
		out := make([]watched.Interval, len(t.local))
		copy(out, t.local)
		return out
	}
	merged, err := watched.MergeUnion(t.local, []watched.Interval{open})
	if err != nil {
		return append([]watched.Interval(nil), t.local...)
	}
	return merged
}

// Percentage is the local watch percentage for immediate feedback.
func (t *Tracker) Percentage() float64 {
	return watched.Percentage(t.Local(), t.duration)
}

func (t *Tracker) Snapshot() Snapshot {
	out := Snapshot{
		Intervals:    make([]watched.Interval, 0, len(t.pending)+1),
		Pending:      len(t.pending),
		LastPosition: t.position,
		Tracking:     t.tracking,
	}
	out.Intervals = append(out.Intervals, t.pending...)
	if open, ok := t.openInterval(); ok {
		out.Intervals = append(out.Intervals, open)
	}
	return out
}

// Ack drops the first n pending intervals and adopts the server's canonical
// intervals as the local view. Intervals closed after the snapshot was taken
// stay pending and stay visible locally.
func (t *Tracker) Ack(n int, state *watched.State) {
	if n > len(t.pending) {
		n = len(t.pending)
	}
	if n > 0 {
		t.pending = append([]watched.Interval(nil), t.pending[n:]...)
	}
	if state == nil {
		return
	}
	merged, err := watched.MergeUnion(state.Intervals, t.pending)
	if err != nil {
		t.log.Warn("playback: adopt server state failed", zap.Error(err))
		return
	}
	t.local = merged
}

func toSeconds(at float64) int {
	if math.IsNaN(at) || at <= 0 {
		return 0
	}
	if math.IsInf(at, 1) {
		return math.MaxInt32
	}
	return int(math.Floor(at))
}
