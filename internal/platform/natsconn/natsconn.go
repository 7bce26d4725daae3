// Package natsconn opens the shared NATS connection and prepares the
// JetStream streams a service publishes to or consumes from.
package natsconn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/lecture-platform/internal/platform/config"
)

// Options configures the NATS connection behaviour.
// Zero values fall back to NATS_URL, NATS_MAX_RECONNECTS, NATS_RECONNECT_WAIT
// or built-in defaults.
type Options struct {
	URL           string
	Name          string
	MaxReconnects int           // default 5
	ReconnectWait time.Duration // default 2s
}

func (o Options) withDefaults() Options {
	v := config.NewEnv()
	v.SetDefault("nats_url", nats.DefaultURL)
	v.SetDefault("nats_max_reconnects", 5)
	v.SetDefault("nats_reconnect_wait", "2s")

	if strings.TrimSpace(o.URL) == "" {
		o.URL = strings.TrimSpace(v.GetString("nats_url"))
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = v.GetInt("nats_max_reconnects")
		if o.MaxReconnects < 0 {
			o.MaxReconnects = 5
		}
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = v.GetDuration("nats_reconnect_wait")
		if o.ReconnectWait <= 0 {
			o.ReconnectWait = 2 * time.Second
		}
	}
	return o
}

// Connect establishes a NATS connection with the configured retry policy.
// On failure it returns an error so the caller decides whether to run
// without NATS.
func Connect(opts Options) (*nats.Conn, error) {
	opts = opts.withDefaults()
	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

// EnsureStream returns a JetStream context and creates the named stream for
// subjects when it does not exist yet.
func EnsureStream(nc *nats.Conn, name string, subjects ...string) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if _, err := js.StreamInfo(name); err == nil {
		return js, nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return nil, fmt.Errorf("stream info %s: %w", name, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	}); err != nil {
		return nil, fmt.Errorf("add stream %s: %w", name, err)
	}
	return js, nil
}
