package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/platform/idempotency"
	"github.com/example/lecture-platform/internal/watched"
	"github.com/example/lecture-platform/services/progress/internal/catalog"
	"github.com/example/lecture-platform/services/progress/internal/progress"
)

const (
	Stream  = "PROGRESS"
	Subject = "progress.intervals"
	Durable = "progress_intervals"
)

// IntervalsEvent is a watched-interval batch delivered over JetStream.
type IntervalsEvent struct {
	EventID      string             `json:"event_id"`
	UserID       string             `json:"user_id"`
	VideoID      string             `json:"video_id"`
	Intervals    []watched.Interval `json:"intervals"`
	LastPosition int                `json:"last_position"`
	ClientTsMs   int64              `json:"client_ts_ms"`
}

// Applier is the part of the progress service the consumer drives.
type Applier interface {
	ApplyUpdate(ctx context.Context, u progress.Update) (progress.Result, error)
}

// Outcome tells the fetch loop what to do with a message.
type Outcome int

const (
	Ack Outcome = iota
	Nak
	// Term drops a message that can never succeed.
	Term
)

type Consumer struct {
	Apply     Applier
	Seen      idempotency.Store
	Log       *zap.Logger
	BatchSize int
	MaxWait   time.Duration
	// MaxDeliver terminates a message after that many attempts; 0 means no limit.
	MaxDeliver int
}

func NewConsumer(apply Applier, seen idempotency.Store, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{Apply: apply, Seen: seen, Log: log, BatchSize: 100, MaxWait: 2 * time.Second, MaxDeliver: 10}
}

// Handle applies one message payload.
func (c *Consumer) Handle(ctx context.Context, data []byte) Outcome {
	var ev IntervalsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.Log.Warn("intervals_consumer: invalid json", zap.Error(err))
		return Term
	}
	if ev.EventID == "" || ev.UserID == "" || ev.VideoID == "" {
		c.Log.Warn("intervals_consumer: missing ids",
			zap.String("event_id", ev.EventID),
			zap.String("user_id", ev.UserID),
			zap.String("video_id", ev.VideoID),
		)
		return Term
	}

	dup, err := c.Seen.Check(ctx, ev.EventID)
	if err != nil {
		c.Log.Warn("intervals_consumer: idempotency check", zap.String("event_id", ev.EventID), zap.Error(err))
		return Nak
	}
	if dup {
		return Ack
	}

	u := progress.Update{
		UserID:       ev.UserID,
		VideoID:      ev.VideoID,
		Intervals:    ev.Intervals,
		LastPosition: ev.LastPosition,
	}
	if ev.ClientTsMs > 0 {
		u.ReportedAt = time.UnixMilli(ev.ClientTsMs)
	}
	if _, err := c.Apply.ApplyUpdate(ctx, u); err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			c.Log.Warn("intervals_consumer: unknown video", zap.String("event_id", ev.EventID), zap.String("video_id", ev.VideoID))
			return Term
		}
		c.Log.Error("intervals_consumer: apply failed", zap.String("event_id", ev.EventID), zap.Error(err))
		if err := c.Seen.Release(ctx, ev.EventID); err != nil {
			c.Log.Warn("intervals_consumer: release", zap.String("event_id", ev.EventID), zap.Error(err))
		}
		return Nak
	}
	return Ack
}

// Run pulls batches from the durable consumer until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.PullSubscribe(Subject, Durable)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.Log.Info("intervals_consumer: started", zap.String("subject", Subject))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(c.BatchSize, nats.MaxWait(c.MaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.Log.Warn("intervals_consumer: fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			if err := c.settle(ctx, m); err != nil {
				c.Log.Warn("intervals_consumer: ack", zap.Error(err))
			}
		}
	}
}

func (c *Consumer) settle(ctx context.Context, m *nats.Msg) error {
	numDelivered := uint64(1)
	if md, err := m.Metadata(); err == nil && md != nil {
		numDelivered = md.NumDelivered
	}

	switch c.Handle(ctx, m.Data) {
	case Nak:
		if c.MaxDeliver > 0 && int(numDelivered) >= c.MaxDeliver {
			c.Log.Warn("intervals_consumer: max deliveries exceeded", zap.Uint64("attempt", numDelivered))
			return m.Term()
		}
		return m.NakWithDelay(backoffDelay(numDelivered))
	case Term:
		return m.Term()
	default:
		return m.Ack()
	}
}
