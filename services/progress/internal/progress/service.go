// Package progress is the server authority for watched states: it merges
// incoming intervals into the stored record for a user and video.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/platform/analytics"
	"github.com/example/lecture-platform/internal/watched"
	"github.com/example/lecture-platform/services/progress/internal/catalog"
	"github.com/example/lecture-platform/services/progress/internal/store"
)

var ErrMissingIdentity = errors.New("user id and video id are required")

// Update is one batch reported by a client.
type Update struct {
	UserID       string
	VideoID      string
	Intervals    []watched.Interval
	LastPosition int
	// ReportedAt orders lastPosition writes; zero means "now".
	ReportedAt time.Time
}

// Result is the canonical state after an update plus the intervals that
// were dropped from the batch.
type Result struct {
	State    watched.State
	Rejected []watched.Rejection
}

type Service struct {
	Store  store.Repository
	Videos catalog.Catalog
	Events *analytics.Publisher
	Log    *zap.Logger
	Now    func() time.Time
}

func New(repo store.Repository, videos catalog.Catalog, events *analytics.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: repo, Videos: videos, Events: events, Log: log, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) duration(ctx context.Context, videoID string) (int, error) {
	d, err := s.Videos.Duration(ctx, videoID)
	if err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("lookup duration %s: %w", videoID, err)
	}
	return d, nil
}

// Get returns the stored state, or the empty state when nothing was recorded.
func (s *Service) Get(ctx context.Context, userID, videoID string) (watched.State, error) {
	if userID == "" || videoID == "" {
		return watched.State{}, ErrMissingIdentity
	}
	if _, err := s.duration(ctx, videoID); err != nil {
		return watched.State{}, err
	}
	st, _, err := s.Store.Get(ctx, store.Key{UserID: userID, VideoID: videoID})
	if err != nil {
		return watched.State{}, fmt.Errorf("get progress: %w", err)
	}
	return st, nil
}

// ApplyUpdate merges u into the stored state under the per-key lock and
// returns the canonical result.
func (s *Service) ApplyUpdate(ctx context.Context, u Update) (Result, error) {
	if u.UserID == "" || u.VideoID == "" {
		return Result{}, ErrMissingIdentity
	}
	duration, err := s.duration(ctx, u.VideoID)
	if err != nil {
		return Result{}, err
	}

	valid, rejected := watched.Normalize(u.Intervals, duration)
	for _, r := range rejected {
		s.Log.Warn("interval rejected",
			zap.String("user_id", u.UserID),
			zap.String("video_id", u.VideoID),
			zap.Int("index", r.Index),
			zap.Int("start", r.Interval.Start),
			zap.Int("end", r.Interval.End),
			zap.String("reason", r.Reason),
		)
	}

	now := s.now()
	// Client clocks may run ahead; a future stamp would pin the position.
	reportedAt := u.ReportedAt
	if reportedAt.IsZero() || reportedAt.After(now) {
		reportedAt = now
	}

	var wasCompleted bool
	key := store.Key{UserID: u.UserID, VideoID: u.VideoID}
	st, err := s.Store.Update(ctx, key, func(cur watched.State, _ bool) (watched.State, error) {
		wasCompleted = cur.Completed
		if err := cur.Apply(valid, u.LastPosition, reportedAt.UnixMilli(), duration); err != nil {
			return cur, err
		}
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply update: %w", err)
	}

	s.Events.Publish(analytics.SubjectProgressUpdated, "progress_updated", u.UserID, map[string]any{
		"video_id":            u.VideoID,
		"progress_percentage": st.ProgressPercentage,
		"last_position":       st.LastPosition,
		"accepted":            len(valid),
		"rejected":            len(rejected),
	})
	if st.Completed && !wasCompleted {
		s.Events.Publish(analytics.SubjectProgressDone, "progress_completed", u.UserID, map[string]any{
			"video_id": u.VideoID,
		})
	}
	return Result{State: st, Rejected: rejected}, nil
}

// Reset replaces the stored state with the empty one. Position writes
// stamped before the reset no longer apply.
func (s *Service) Reset(ctx context.Context, userID, videoID string) (watched.State, error) {
	if userID == "" || videoID == "" {
		return watched.State{}, ErrMissingIdentity
	}
	if _, err := s.duration(ctx, videoID); err != nil {
		return watched.State{}, err
	}
	now := s.now()
	st, err := s.Store.Update(ctx, store.Key{UserID: userID, VideoID: videoID}, func(_ watched.State, _ bool) (watched.State, error) {
		empty := watched.Empty(userID, videoID)
		empty.PositionTsMs = now.UnixMilli()
		empty.UpdatedAt = now
		return empty, nil
	})
	if err != nil {
		return watched.State{}, fmt.Errorf("reset progress: %w", err)
	}
	s.Events.Publish(analytics.SubjectProgressReset, "progress_reset", userID, map[string]any{
		"video_id": videoID,
	})
	return st, nil
}

// ResumePosition is where playback of videoID should start for userID.
func (s *Service) ResumePosition(ctx context.Context, userID, videoID string) (int, error) {
	duration, err := s.duration(ctx, videoID)
	if err != nil {
		return 0, err
	}
	st, found, err := s.Store.Get(ctx, store.Key{UserID: userID, VideoID: videoID})
	if err != nil {
		return 0, fmt.Errorf("get progress: %w", err)
	}
	if !found {
		return 0, nil
	}
	return watched.ResumePosition(&st, duration), nil
}
