package progressclient

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/playback"
	"github.com/example/lecture-platform/internal/watched"
)

// Session tracks one playback of one video and keeps the service in sync.
// The player layer owns it: create it when playback starts, Close it on
// teardown. All methods are safe for concurrent use.
type Session struct {
	api     *Client
	videoID string
	log     *zap.Logger

	mu      sync.Mutex
	tracker *playback.Tracker
	closed  bool

	syncer *SyncClient
}

var _ playback.Events = (*Session)(nil)

func NewSession(api *Client, videoID string, duration int, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		api:     api,
		videoID: videoID,
		log:     opts.Log.With(zap.String("video_id", videoID)),
		tracker: playback.NewTracker(duration, opts.Log),
	}
	s.syncer = NewSyncClient(api, videoID, lockedSource{s}, opts)
	return s
}

// lockedSource serializes sync access to the tracker with player events.
type lockedSource struct{ s *Session }

func (l lockedSource) Snapshot() playback.Snapshot {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.tracker.Snapshot()
}

func (l lockedSource) Ack(n int, state *watched.State) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.tracker.Ack(n, state)
}

// withTracker runs fn under the lock unless the session is closed.
func (s *Session) withTracker(fn func(t *playback.Tracker)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn(s.tracker)
	return true
}

func (s *Session) OnPlay(at float64) {
	if s.withTracker(func(t *playback.Tracker) { t.OnPlay(at) }) {
		s.syncer.StartHeartbeat()
	}
}

func (s *Session) OnPause(at float64) {
	if s.withTracker(func(t *playback.Tracker) { t.OnPause(at) }) {
		s.syncer.StopHeartbeat()
		s.syncer.Trigger("pause")
	}
}

func (s *Session) OnSeek(target float64) {
	if s.withTracker(func(t *playback.Tracker) { t.OnSeek(target) }) {
		s.syncer.Trigger("seek")
	}
}

func (s *Session) OnTick(at float64) {
	s.withTracker(func(t *playback.Tracker) { t.OnTick(at) })
}

func (s *Session) OnEnded(at float64) {
	if s.withTracker(func(t *playback.Tracker) { t.OnEnded(at) }) {
		s.syncer.StopHeartbeat()
		s.syncer.Trigger("ended")
	}
}

// SetDuration updates the duration once the player learns it.
func (s *Session) SetDuration(duration int) {
	s.withTracker(func(t *playback.Tracker) { t.SetDuration(duration) })
}

// Local is the advisory merged view for progress UI.
func (s *Session) Local() []watched.Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Local()
}

func (s *Session) Percentage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Percentage()
}

// Resume fetches the stored state, adopts it as the local view and returns
// the position playback should seek to. Anonymous sessions return 0, false.
func (s *Session) Resume(ctx context.Context) (int, bool, error) {
	if !s.api.Authenticated() {
		return 0, false, nil
	}
	st, err := s.api.Get(ctx, s.videoID)
	if err != nil {
		return 0, false, fmt.Errorf("resume %s: %w", s.videoID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st == nil {
		return 0, false, nil
	}
	s.tracker.Ack(0, st)
	pos := watched.ResumePosition(st, s.tracker.Duration())
	s.log.Debug("resume resolved", zap.Int("position", pos))
	return pos, true, nil
}

// Sync pushes now and waits for the answer.
func (s *Session) Sync(ctx context.Context) (*watched.State, error) {
	return s.syncer.Sync(ctx)
}

// Close closes any open interval, fires a last push and stops all timers.
// Later player events are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.tracker.Teardown(float64(s.tracker.Position()))
	s.mu.Unlock()

	s.syncer.FlushBestEffort()
	s.syncer.Close()
}
