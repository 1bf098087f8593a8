package repository

import (
	"context"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
)

// RecordStore is the keyed half of a LearningStore.
type RecordStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// LogStore is the append-only half of a LearningStore.
type LogStore interface {
	Append(ctx context.Context, log string, entry models.LogEntry) error
	QueryRecent(ctx context.Context, log, key string, n int) ([]models.LogEntry, error)
}

// TieredStore routes records and logs to different backends,
// e.g. Redis for records and ClickHouse for logs.
type TieredStore struct {
	records RecordStore
	logs    LogStore
}

func NewTieredStore(records RecordStore, logs LogStore) *TieredStore {
	return &TieredStore{records: records, logs: logs}
}

func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.records.Get(ctx, key)
}

func (s *TieredStore) Put(ctx context.Context, key string, value []byte) error {
	return s.records.Put(ctx, key, value)
}

func (s *TieredStore) Append(ctx context.Context, log string, entry models.LogEntry) error {
	entry.Log = log
	return s.logs.Append(ctx, log, entry)
}

func (s *TieredStore) QueryRecent(ctx context.Context, log, key string, n int) ([]models.LogEntry, error) {
	return s.logs.QueryRecent(ctx, log, key, n)
}

var _ domrepo.LearningStore = (*TieredStore)(nil)
