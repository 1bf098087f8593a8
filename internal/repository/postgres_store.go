package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
)

// PostgresSchema creates the record and log tables.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS learning_records (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS learning_log (
		id      BIGSERIAL PRIMARY KEY,
		log     TEXT NOT NULL,
		key     TEXT NOT NULL DEFAULT '',
		ts      TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_learning_log_log_id ON learning_log(log, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_learning_log_log_key_id ON learning_log(log, key, id DESC)`,
}

// PostgresStore implements LearningStore on two PostgreSQL tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM learning_records WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO learning_records (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, log string, entry models.LogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_log (log, key, ts, payload) VALUES ($1, $2, $3, $4)`,
		log, entry.Key, entry.Timestamp, []byte(entry.Payload))
	if err != nil {
		return fmt.Errorf("postgres append %s: %w", log, err)
	}
	return nil
}

func (s *PostgresStore) QueryRecent(ctx context.Context, log, key string, n int) ([]models.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, ts, payload FROM learning_log
		WHERE log = $1 AND ($2 = '' OR key = $2)
		ORDER BY id DESC LIMIT $3`,
		log, key, n)
	if err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", log, err)
	}
	defer rows.Close()

	out := make([]models.LogEntry, 0, n)
	for rows.Next() {
		var (
			e       models.LogEntry
			payload []byte
		)
		if err := rows.Scan(&e.Key, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("postgres scan %s: %w", log, err)
		}
		e.Log = log
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows %s: %w", log, err)
	}

	reverseEntries(out)
	return out, nil
}

// Ping reports whether the pool can reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ domrepo.LearningStore = (*PostgresStore)(nil)
