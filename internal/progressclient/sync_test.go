package progressclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/lecture-platform/internal/playback"
	"github.com/example/lecture-platform/internal/watched"
)

type fakeUpdater struct {
	anonymous bool
	calls     atomic.Int32
	errs      chan error
	block     chan struct{}
}

func (f *fakeUpdater) Authenticated() bool { return !f.anonymous }

func (f *fakeUpdater) Update(ctx context.Context, videoID string, req UpdateRequest) (*UpdateResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.errs != nil {
		select {
		case err := <-f.errs:
			return nil, err
		default:
		}
	}
	st := watched.Empty("user-a", videoID)
	if err := st.Apply(req.Intervals, req.LastPosition, req.ClientTsMs, 300); err != nil {
		return nil, err
	}
	return &UpdateResult{State: st}, nil
}

type fakeSource struct {
	mu      sync.Mutex
	pending []watched.Interval
	acked   []int
	adopted *watched.State
}

func (s *fakeSource) Snapshot() playback.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playback.Snapshot{Intervals: append([]watched.Interval(nil), s.pending...), Pending: len(s.pending), LastPosition: 10}
}

func (s *fakeSource) Ack(n int, st *watched.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[n:]
	s.acked = append(s.acked, n)
	s.adopted = st
}

func (s *fakeSource) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func fastOptions() Options {
	return Options{
		Debounce:  20 * time.Millisecond,
		Heartbeat: 15 * time.Millisecond,
		RetryBase: 5 * time.Millisecond,
		RetryMax:  20 * time.Millisecond,
	}
}

func newTestSync(u Updater, src Source, opts Options) *SyncClient {
	c := NewSyncClient(u, "lecture-1", src, opts)
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c
}

func TestSync_DebounceCoalesces(t *testing.T) {
	u := &fakeUpdater{}
	src := &fakeSource{pending: []watched.Interval{{Start: 0, End: 10}}}
	c := newTestSync(u, src, fastOptions())
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Trigger("seek")
	}
	require.Eventually(t, func() bool { return u.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, u.calls.Load())
	assert.Zero(t, src.pendingLen())
}

func TestSync_RetriesTransportFailures(t *testing.T) {
	u := &fakeUpdater{errs: make(chan error, 2)}
	u.errs <- ErrTransport
	u.errs <- &StatusError{Status: 503}
	src := &fakeSource{pending: []watched.Interval{{Start: 0, End: 10}}}
	c := newTestSync(u, src, fastOptions())
	defer c.Close()

	c.Trigger("pause")
	require.Eventually(t, func() bool { return src.pendingLen() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, u.calls.Load())
}

func TestSync_PendingRetainedOnFailure(t *testing.T) {
	u := &fakeUpdater{errs: make(chan error, 1)}
	u.errs <- &StatusError{Status: 404, Code: "VIDEO_NOT_FOUND"}
	src := &fakeSource{pending: []watched.Interval{{Start: 0, End: 10}}}
	c := newTestSync(u, src, fastOptions())
	defer c.Close()

	_, err := c.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, src.pendingLen())

	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(t, 1, u.calls.Load(), "client errors are not retried")
}

func TestSync_InFlightCollapsesToOneFollowUp(t *testing.T) {
	u := &fakeUpdater{block: make(chan struct{})}
	src := &fakeSource{pending: []watched.Interval{{Start: 0, End: 10}}}
	c := newTestSync(u, src, fastOptions())
	defer c.Close()

	c.FlushBestEffort()
	require.Eventually(t, func() bool { return u.calls.Load() == 1 }, time.Second, time.Millisecond)
	c.FlushBestEffort()
	c.FlushBestEffort()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, u.calls.Load(), "no second request while one is in flight")

	close(u.block)
	require.Eventually(t, func() bool { return u.calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, u.calls.Load())
}

func TestSync_OnStateReceivesServerState(t *testing.T) {
	u := &fakeUpdater{}
	src := &fakeSource{pending: []watched.Interval{{Start: 0, End: 29}}}
	got := make(chan watched.State, 1)
	opts := fastOptions()
	opts.OnState = func(st watched.State) { got <- st }
	c := newTestSync(u, src, opts)
	defer c.Close()

	st, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.InDelta(t, 10.0, st.ProgressPercentage, 1e-9)

	select {
	case cb := <-got:
		assert.Equal(t, st.Intervals, cb.Intervals)
	case <-time.After(time.Second):
		t.Fatal("OnState not called")
	}
	assert.Equal(t, []int{1}, src.acked)
}

func TestSync_Anonymous(t *testing.T) {
	u := &fakeUpdater{anonymous: true}
	c := newTestSync(u, &fakeSource{}, fastOptions())
	defer c.Close()

	st, err := c.Sync(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, st)
	c.Trigger("pause")
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, u.calls.Load())
}

func TestSync_CloseCancelsTimers(t *testing.T) {
	u := &fakeUpdater{}
	c := newTestSync(u, &fakeSource{}, fastOptions())

	c.Trigger("pause")
	c.StartHeartbeat()
	c.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, u.calls.Load())

	c.Trigger("seek")
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, u.calls.Load(), "triggers after close are ignored")
}

func TestSync_Heartbeat(t *testing.T) {
	u := &fakeUpdater{}
	c := newTestSync(u, &fakeSource{}, fastOptions())
	defer c.Close()

	c.StartHeartbeat()
	require.Eventually(t, func() bool { return u.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	c.StopHeartbeat()
	time.Sleep(10 * time.Millisecond)
	n := u.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, u.calls.Load())
}

func TestSync_Backoff(t *testing.T) {
	c := newTestSync(&fakeUpdater{}, &fakeSource{}, Options{RetryBase: time.Second, RetryMax: 30 * time.Second})
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 16*time.Second, c.backoff(5))
	assert.Equal(t, 30*time.Second, c.backoff(6))
	assert.Equal(t, 30*time.Second, c.backoff(50))

	for i := 0; i < 100; i++ {
		d := halfJitter(10 * time.Second)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 10*time.Second)
	}
}
