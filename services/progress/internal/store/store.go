// Package store persists watched states keyed by user and video.
package store

import (
	"context"

	"github.com/example/lecture-platform/internal/watched"
)

type Key struct {
	UserID  string
	VideoID string
}

func (k Key) String() string { return k.UserID + "/" + k.VideoID }

// UpdateFunc computes the next state from the current one. found is false
// when no state was stored for the key yet; cur is then the empty state.
type UpdateFunc func(cur watched.State, found bool) (watched.State, error)

// Repository stores one watched state per key.
type Repository interface {
	// Get returns the stored state; found is false when there is none.
	Get(ctx context.Context, key Key) (state watched.State, found bool, err error)
	// Update runs fn and persists its result atomically. Calls for the same
	// key are serialized; an error from fn leaves the stored state untouched.
	Update(ctx context.Context, key Key, fn UpdateFunc) (watched.State, error)
}
