package progressclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/lecture-platform/internal/platform/api"
	"github.com/example/lecture-platform/internal/watched"
)

const testToken = "token-a"

// fakeServer answers /progress/{videoId} for one user over 300-second videos.
type fakeServer struct {
	mu       sync.Mutex
	states   map[string]watched.State
	failNext int
	requests []UpdateRequest
	auth     []string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{states: map[string]watched.State{}}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) seed(st watched.State) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.states[st.VideoID] = st
}

func (fs *fakeServer) fail(n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failNext = n
}

func (fs *fakeServer) updates() []UpdateRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]UpdateRequest(nil), fs.requests...)
}

func (fs *fakeServer) state(videoID string) watched.State {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.states[videoID]
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.auth = append(fs.auth, r.Header.Get("Authorization"))
	if fs.failNext > 0 {
		fs.failNext--
		api.Unavailable(w, "UNAVAILABLE", "try later", "")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		api.Unauthorized(w, "AUTH_MISSING", "authentication required", "")
		return
	}
	videoID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if videoID == "missing" {
		api.NotFound(w, "VIDEO_NOT_FOUND", "video not found", "")
		return
	}
	const duration = 300

	st, ok := fs.states[videoID]
	if !ok {
		st = watched.Empty("user-a", videoID)
	}
	switch r.Method {
	case http.MethodGet:
		api.WriteData(w, http.StatusOK, st)
	case http.MethodDelete:
		st = watched.Empty("user-a", videoID)
		fs.states[videoID] = st
		api.WriteData(w, http.StatusOK, st)
	case http.MethodPost:
		var req UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
			return
		}
		fs.requests = append(fs.requests, req)
		valid, rejected := watched.Normalize(req.Intervals, duration)
		ts := req.ClientTsMs
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		_ = st.Apply(valid, req.LastPosition, ts, duration)
		fs.states[videoID] = st
		api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": st, "rejected": rejected})
	}
}
