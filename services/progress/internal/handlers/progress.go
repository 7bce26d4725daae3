package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/platform/api"
	"github.com/example/lecture-platform/internal/platform/auth"
	"github.com/example/lecture-platform/internal/platform/httpserver"
	"github.com/example/lecture-platform/internal/watched"
	"github.com/example/lecture-platform/services/progress/internal/catalog"
	"github.com/example/lecture-platform/services/progress/internal/progress"
)

const maxBodyBytes = 1 << 20

// Progress is what the handlers need from the progress service.
type Progress interface {
	Get(ctx context.Context, userID, videoID string) (watched.State, error)
	ApplyUpdate(ctx context.Context, u progress.Update) (progress.Result, error)
	Reset(ctx context.Context, userID, videoID string) (watched.State, error)
}

type updateRequest struct {
	Intervals    []watched.Interval `json:"intervals"`
	LastPosition *int               `json:"lastPosition"`
	ClientTsMs   *int64             `json:"clientTsMs,omitempty"`
}

type updateResponse struct {
	Success  bool                `json:"success"`
	Data     watched.State       `json:"data"`
	Rejected []watched.Rejection `json:"rejected,omitempty"`
}

// Mount registers the progress routes on r. Callers put auth.RequireUser in
// front of them.
func Mount(r chi.Router, svc Progress, log *zap.Logger) {
	r.Get("/progress/{video_id}", GetProgress(svc, log))
	r.Post("/progress/{video_id}", UpdateProgress(svc, log))
	r.Delete("/progress/{video_id}", ResetProgress(svc, log))
}

// requestIdentity pulls the caller and the video id, writing the error
// response itself when either is missing.
func requestIdentity(w http.ResponseWriter, r *http.Request) (userID, videoID string, ok bool) {
	rid := httpserver.RequestIDFromContext(r.Context())
	userID, ok = auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "AUTH_MISSING", "authentication required", rid)
		return "", "", false
	}
	videoID = strings.TrimSpace(chi.URLParam(r, "video_id"))
	if videoID == "" {
		api.BadRequest(w, "MISSING_ID", "video_id is required", rid, nil)
		return "", "", false
	}
	return userID, videoID, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	if errors.Is(err, catalog.ErrVideoNotFound) {
		api.NotFound(w, "VIDEO_NOT_FOUND", "video not found", rid)
		return
	}
	log.Error("progress request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", rid),
		zap.Error(err),
	)
	api.Internal(w, rid)
}

// GetProgress handles GET /progress/{video_id}
func GetProgress(svc Progress, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, videoID, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		st, err := svc.Get(r.Context(), userID, videoID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteData(w, http.StatusOK, st)
	}
}

// UpdateProgress handles POST /progress/{video_id}
func UpdateProgress(svc Progress, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, videoID, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		rid := httpserver.RequestIDFromContext(r.Context())

		var req updateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		if req.LastPosition == nil {
			api.BadRequest(w, "INVALID_JSON", "lastPosition is required", rid, map[string]any{"field": "lastPosition"})
			return
		}

		u := progress.Update{
			UserID:       userID,
			VideoID:      videoID,
			Intervals:    req.Intervals,
			LastPosition: *req.LastPosition,
		}
		if req.ClientTsMs != nil && *req.ClientTsMs > 0 {
			u.ReportedAt = time.UnixMilli(*req.ClientTsMs)
		}

		res, err := svc.ApplyUpdate(r.Context(), u)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, updateResponse{Success: true, Data: res.State, Rejected: res.Rejected})
	}
}

// ResetProgress handles DELETE /progress/{video_id}
func ResetProgress(svc Progress, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, videoID, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		st, err := svc.Reset(r.Context(), userID, videoID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteData(w, http.StatusOK, st)
	}
}
