package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/lecture-platform/internal/platform/cache"
	"github.com/example/lecture-platform/internal/watched"
)

// Cached is a read-through Redis cache in front of another Repository.
// Writes go to the inner repository and then drop the cached entry; cache
// failures are logged and never fail a request.
type Cached struct {
	Inner Repository
	Cache *cache.RedisCache
	Log   *zap.Logger
}

func NewCached(inner Repository, c *cache.RedisCache, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{Inner: inner, Cache: c, Log: log}
}

func (c *Cached) Get(ctx context.Context, key Key) (watched.State, bool, error) {
	var st watched.State
	hit, err := c.Cache.Get(ctx, key.String(), &st)
	if err != nil {
		c.Log.Warn("progress cache get", zap.String("key", key.String()), zap.Error(err))
	}
	if hit {
		if st.Intervals == nil {
			st.Intervals = []watched.Interval{}
		}
		return st, true, nil
	}

	st, found, err := c.Inner.Get(ctx, key)
	if err != nil || !found {
		return st, found, err
	}
	if err := c.Cache.Set(ctx, key.String(), st); err != nil {
		c.Log.Warn("progress cache set", zap.String("key", key.String()), zap.Error(err))
	}
	return st, true, nil
}

func (c *Cached) Update(ctx context.Context, key Key, fn UpdateFunc) (watched.State, error) {
	st, err := c.Inner.Update(ctx, key, fn)
	if err != nil {
		return st, err
	}
	if err := c.Cache.Delete(ctx, key.String()); err != nil {
		c.Log.Warn("progress cache invalidate", zap.String("key", key.String()), zap.Error(err))
	}
	return st, nil
}
