package progressclient

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/playback"
	"github.com/example/lecture-platform/internal/watched"
)

const (
	DefaultDebounce       = 750 * time.Millisecond
	DefaultHeartbeat      = 10 * time.Second
	DefaultRetryBase      = time.Second
	DefaultRetryMax       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Updater is the transport the sync loop pushes batches through.
type Updater interface {
	Authenticated() bool
	Update(ctx context.Context, videoID string, req UpdateRequest) (*UpdateResult, error)
}

// Source supplies what to send and takes the server's answer back. It must
// be safe for use from timer goroutines.
type Source interface {
	Snapshot() playback.Snapshot
	Ack(n int, state *watched.State)
}

type Options struct {
	Debounce       time.Duration
	Heartbeat      time.Duration
	RetryBase      time.Duration
	RetryMax       time.Duration
	RequestTimeout time.Duration
	Log            *zap.Logger
	// OnState receives every canonical state adopted after a sync.
	OnState func(watched.State)
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.RetryMax <= 0 {
		o.RetryMax = DefaultRetryMax
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SyncClient decides when the pending intervals of one video are pushed.
// At most one request is in flight; triggers that arrive meanwhile collapse
// into a single follow-up request.
type SyncClient struct {
	api     Updater
	videoID string
	src     Source
	opts    Options
	jitter  func(time.Duration) time.Duration

	mu        sync.Mutex
	debounce  *time.Timer
	heartbeat *time.Timer
	retry     *time.Timer
	inFlight  bool
	dirty     bool
	closed    bool
	attempt   int
}

func NewSyncClient(api Updater, videoID string, src Source, opts Options) *SyncClient {
	return &SyncClient{
		api:     api,
		videoID: videoID,
		src:     src,
		opts:    opts.withDefaults(),
		jitter:  halfJitter,
	}
}

// halfJitter spreads d over [d/2, d).
func halfJitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// Trigger schedules a debounced push. reason is only logged.
func (c *SyncClient) Trigger(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.opts.Log.Debug("progress sync scheduled", zap.String("video_id", c.videoID), zap.String("reason", reason))
	c.debounce = time.AfterFunc(c.opts.Debounce, c.fire)
}

// StartHeartbeat pushes periodically until StopHeartbeat or Close.
func (c *SyncClient) StartHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.heartbeat != nil {
		return
	}
	c.heartbeat = time.AfterFunc(c.opts.Heartbeat, c.beat)
}

func (c *SyncClient) StopHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *SyncClient) beat() {
	c.mu.Lock()
	if c.closed || c.heartbeat == nil {
		c.mu.Unlock()
		return
	}
	c.heartbeat = time.AfterFunc(c.opts.Heartbeat, c.beat)
	c.mu.Unlock()
	c.send()
}

// FlushBestEffort starts a push now without waiting for it. It still runs
// when Close follows immediately.
func (c *SyncClient) FlushBestEffort() {
	c.mu.Lock()
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.mu.Unlock()
	go c.send()
}

// Sync pushes synchronously and returns the adopted state. It returns
// nil, nil for anonymous clients and when another push is in flight (that
// push will pick the current snapshot up as its follow-up).
func (c *SyncClient) Sync(ctx context.Context) (*watched.State, error) {
	if !c.api.Authenticated() {
		return nil, nil
	}
	c.mu.Lock()
	if c.inFlight {
		c.dirty = true
		c.mu.Unlock()
		return nil, nil
	}
	c.inFlight = true
	c.mu.Unlock()

	st, err := c.push(ctx)
	c.finish(err)
	return st, err
}

// Close cancels every timer. Pushes already running complete, but no
// OnState callback or retry follows them.
func (c *SyncClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, t := range []*time.Timer{c.debounce, c.heartbeat, c.retry} {
		if t != nil {
			t.Stop()
		}
	}
	c.debounce, c.heartbeat, c.retry = nil, nil, nil
}

func (c *SyncClient) fire() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.send()
}

func (c *SyncClient) send() {
	if !c.api.Authenticated() {
		return
	}
	c.mu.Lock()
	if c.inFlight {
		c.dirty = true
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	_, err := c.push(ctx)
	cancel()
	c.finish(err)
}

// finish releases the in-flight slot. After a success a pending follow-up
// runs; after a transport failure a retry is scheduled.
func (c *SyncClient) finish(err error) {
	for {
		c.mu.Lock()
		if err != nil {
			c.inFlight = false
			c.dirty = false
			if errors.Is(err, ErrTransport) {
				c.scheduleRetryLocked()
			}
			c.mu.Unlock()
			return
		}
		c.attempt = 0
		if c.retry != nil {
			c.retry.Stop()
			c.retry = nil
		}
		if !c.dirty {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		c.dirty = false
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		_, err = c.push(ctx)
		cancel()
	}
}

// push sends one snapshot. It must run with the in-flight slot held and
// without c.mu, since Source may take its own lock.
func (c *SyncClient) push(ctx context.Context) (*watched.State, error) {
	snap := c.src.Snapshot()
	req := UpdateRequest{
		Intervals:    snap.Intervals,
		LastPosition: snap.LastPosition,
		ClientTsMs:   c.opts.Now().UnixMilli(),
	}
	res, err := c.api.Update(ctx, c.videoID, req)
	if err != nil {
		c.opts.Log.Warn("progress sync failed",
			zap.String("video_id", c.videoID),
			zap.Int("intervals", len(req.Intervals)),
			zap.Error(err),
		)
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	for _, r := range res.Rejected {
		c.opts.Log.Warn("progress sync interval rejected",
			zap.String("video_id", c.videoID),
			zap.Int("start", r.Interval.Start),
			zap.Int("end", r.Interval.End),
			zap.String("reason", r.Reason),
		)
	}

	st := res.State
	c.src.Ack(snap.Pending, &st)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed && c.opts.OnState != nil {
		c.opts.OnState(st.Clone())
	}
	return &st, nil
}

func (c *SyncClient) scheduleRetryLocked() {
	if c.closed {
		return
	}
	c.attempt++
	delay := c.backoff(c.attempt)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.opts.Log.Info("progress sync retry scheduled",
		zap.String("video_id", c.videoID),
		zap.Int("attempt", c.attempt),
		zap.Duration("delay", delay),
	)
	c.retry = time.AfterFunc(delay, c.fire)
}

// backoff doubles RetryBase per attempt up to RetryMax, then applies jitter.
func (c *SyncClient) backoff(attempt int) time.Duration {
	d := c.opts.RetryBase
	for i := 1; i < attempt && d < c.opts.RetryMax; i++ {
		d *= 2
	}
	if d > c.opts.RetryMax {
		d = c.opts.RetryMax
	}
	return c.jitter(d)
}
