package repository

import (
	"context"
	"database/sql"
	"fmt"

	"LinePulse/internal/domain/models"
)

// ClickHouseLogSchema creates the append-only learning log table.
var ClickHouseLogSchema = []string{
	`CREATE TABLE IF NOT EXISTS learning_log (
		log     LowCardinality(String),
		key     String,
		ts      DateTime64(3, 'UTC'),
		payload String
	) ENGINE = MergeTree
	ORDER BY (log, key, ts)`,
}

// ClickHouseLog stores learning logs in ClickHouse. Records are kept elsewhere,
// see TieredStore.
type ClickHouseLog struct {
	db *sql.DB
}

func NewClickHouseLog(db *sql.DB) *ClickHouseLog {
	return &ClickHouseLog{db: db}
}

func (l *ClickHouseLog) Append(ctx context.Context, log string, entry models.LogEntry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO learning_log (log, key, ts, payload) VALUES (?, ?, ?, ?)`,
		log, entry.Key, entry.Timestamp.UTC(), string(entry.Payload))
	if err != nil {
		return fmt.Errorf("clickhouse append %s: %w", log, err)
	}
	return nil
}

func (l *ClickHouseLog) QueryRecent(ctx context.Context, log, key string, n int) ([]models.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `SELECT key, ts, payload FROM learning_log WHERE log = ? ORDER BY ts DESC LIMIT ?`
	args := []any{log, n}
	if key != "" {
		query = `SELECT key, ts, payload FROM learning_log WHERE log = ? AND key = ? ORDER BY ts DESC LIMIT ?`
		args = []any{log, key, n}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query %s: %w", log, err)
	}
	defer rows.Close()

	out := make([]models.LogEntry, 0, n)
	for rows.Next() {
		var (
			e       models.LogEntry
			payload string
		)
		if err := rows.Scan(&e.Key, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("clickhouse scan %s: %w", log, err)
		}
		e.Log = log
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse rows %s: %w", log, err)
	}

	reverseEntries(out)
	return out, nil
}

var _ LogStore = (*ClickHouseLog)(nil)
