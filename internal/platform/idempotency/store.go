// Package idempotency deduplicates event ids for at-least-once consumers.
//
// Primary backend: Redis SETNX with TTL.
// Fallback: Postgres INSERT ... ON CONFLICT on processed_events.
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Store checks whether an event has already been processed and marks it.
type Store interface {
	// Check returns true if eventID was already processed.
	// If not seen, it atomically marks it as processed.
	Check(ctx context.Context, eventID string) (duplicate bool, err error)
	// Release forgets eventID so a redelivery is processed again. Consumers
	// call it when handling failed after Check marked the event.
	Release(ctx context.Context, eventID string) error
}

// Backends lists what NewStore may choose from; nil fields are skipped.
type Backends struct {
	Redis    redis.UniversalClient
	Postgres *pgxpool.Pool
}

// NewStore creates the best available store: Redis > Postgres > in-memory.
// When isProd is true the in-memory fallback is refused.
func NewStore(b Backends, prefix string, ttl time.Duration, isProd bool) (Store, error) {
	if b.Redis != nil {
		return newRedisStore(b.Redis, prefix, ttl), nil
	}
	if b.Postgres != nil {
		return newPostgresStore(b.Postgres, prefix), nil
	}
	if isProd {
		return nil, errors.New("production requires redis or postgres for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(ttl), nil
}
