package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool    *pgxpool.Pool
	subject string
}

func newPostgresStore(pool *pgxpool.Pool, subject string) *postgresStore {
	return &postgresStore{pool: pool, subject: subject}
}

// Check uses INSERT ... ON CONFLICT to atomically deduplicate.
// Table `processed_events` must exist (see migrations).
func (s *postgresStore) Check(ctx context.Context, eventID string) (bool, error) {
	const q = `INSERT INTO processed_events (event_id, subject, created_at)
	           VALUES ($1, $2, now())
	           ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, eventID, s.subject)
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means the row already existed (duplicate).
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Release(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID)
	return err
}
