package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/lecture-platform/internal/watched"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
  id               TEXT PRIMARY KEY,
  title            TEXT NOT NULL DEFAULT '',
  duration_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS watched_progress (
  user_id             TEXT NOT NULL,
  video_id            TEXT NOT NULL,
  intervals           JSONB NOT NULL DEFAULT '[]'::jsonb,
  last_position       INTEGER NOT NULL DEFAULT 0,
  position_ts_ms      BIGINT NOT NULL DEFAULT 0,
  progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  completed           BOOLEAN NOT NULL DEFAULT false,
  updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, video_id)
);

CREATE TABLE IF NOT EXISTS processed_events (
  event_id   TEXT PRIMARY KEY,
  subject    TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Migrate creates the tables the service needs.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Postgres is the production Repository. Update locks the row with
// SELECT ... FOR UPDATE inside a transaction.
type Postgres struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner, key Key) (watched.State, error) {
	st := watched.Empty(key.UserID, key.VideoID)
	var raw []byte
	if err := row.Scan(&raw, &st.LastPosition, &st.PositionTsMs, &st.ProgressPercentage, &st.Completed, &st.UpdatedAt); err != nil {
		return watched.State{}, err
	}
	if err := json.Unmarshal(raw, &st.Intervals); err != nil {
		return watched.State{}, fmt.Errorf("decode intervals: %w", err)
	}
	if st.Intervals == nil {
		st.Intervals = []watched.Interval{}
	}
	return st, nil
}

func (r *Postgres) Get(ctx context.Context, key Key) (watched.State, bool, error) {
	const q = `SELECT intervals, last_position, position_ts_ms, progress_percentage, completed, updated_at
	           FROM watched_progress WHERE user_id=$1 AND video_id=$2`
	st, err := scanState(r.db.QueryRow(ctx, q, key.UserID, key.VideoID), key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watched.Empty(key.UserID, key.VideoID), false, nil
		}
		return watched.State{}, false, fmt.Errorf("get progress: %w", err)
	}
	return st, true, nil
}

func (r *Postgres) Update(ctx context.Context, key Key, fn UpdateFunc) (watched.State, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return watched.State{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Insert a placeholder first so a brand new key has a row to lock.
	ct, err := tx.Exec(ctx, `INSERT INTO watched_progress (user_id, video_id) VALUES ($1, $2)
	                         ON CONFLICT (user_id, video_id) DO NOTHING`, key.UserID, key.VideoID)
	if err != nil {
		return watched.State{}, fmt.Errorf("ensure progress row: %w", err)
	}
	found := ct.RowsAffected() == 0

	row := tx.QueryRow(ctx, `SELECT intervals, last_position, position_ts_ms, progress_percentage, completed, updated_at
	                         FROM watched_progress WHERE user_id=$1 AND video_id=$2 FOR UPDATE`, key.UserID, key.VideoID)
	cur, err := scanState(row, key)
	if err != nil {
		return watched.State{}, fmt.Errorf("lock progress: %w", err)
	}
	if !found {
		cur = watched.Empty(key.UserID, key.VideoID)
	}

	next, err := fn(cur, found)
	if err != nil {
		return watched.State{}, err
	}
	next.UserID, next.VideoID = key.UserID, key.VideoID
	if next.Intervals == nil {
		next.Intervals = []watched.Interval{}
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = r.now().UTC()
	}
	raw, err := json.Marshal(next.Intervals)
	if err != nil {
		return watched.State{}, fmt.Errorf("encode intervals: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE watched_progress SET
	    intervals = $3::jsonb,
	    last_position = $4,
	    position_ts_ms = $5,
	    progress_percentage = $6,
	    completed = $7,
	    updated_at = $8
	  WHERE user_id=$1 AND video_id=$2`,
		key.UserID, key.VideoID, string(raw), next.LastPosition, next.PositionTsMs,
		next.ProgressPercentage, next.Completed, next.UpdatedAt,
	); err != nil {
		return watched.State{}, fmt.Errorf("write progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return watched.State{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}
