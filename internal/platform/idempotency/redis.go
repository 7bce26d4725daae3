package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *redisStore {
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisStore) Check(ctx context.Context, eventID string) (bool, error) {
	set, err := s.client.SetNX(ctx, s.key(eventID), 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true if the key was SET (i.e. NOT a duplicate).
	return !set, nil
}

func (s *redisStore) Release(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, s.key(eventID)).Err()
}

func (s *redisStore) key(eventID string) string {
	return s.prefix + ":idempotent:" + eventID
}
