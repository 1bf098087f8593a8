package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LinePulse/internal/domain/models"
)

// ErrNotFound is returned by LearningStore.Get for absent keys.
var ErrNotFound = errors.New("learning store: key not found")

// Log names used by the engine.
const (
	LogSamples  = "samples"
	LogCases    = "cases"
	LogAutotune = "autotune"
)

// LearningStore is the persistence collaborator of the learning engine.
// The backing technology is free; the engine depends on exactly these
// four primitives.
type LearningStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Append(ctx context.Context, log string, entry models.LogEntry) error
	// QueryRecent returns up to n most recent entries of log, oldest
	// first. An empty key matches every entry of the log.
	QueryRecent(ctx context.Context, log, key string, n int) ([]models.LogEntry, error)
}

// GetJSON loads key and decodes it into T.
func GetJSON[T any](ctx context.Context, s LearningStore, key string) (T, error) {
	var out T
	b, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s LearningStore, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, b)
}

// AppendJSON appends v as the payload of a new log entry.
func AppendJSON(ctx context.Context, s LearningStore, log, key string, v any, at time.Time) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", log, err)
	}
	return s.Append(ctx, log, models.LogEntry{Log: log, Key: key, Payload: b, Timestamp: at})
}

// DecodeEntries decodes the payloads of entries into T, skipping rows
// that fail to decode.
func DecodeEntries[T any](entries []models.LogEntry) []T {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
