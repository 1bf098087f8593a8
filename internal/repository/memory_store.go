package repository

import (
	"context"
	"sync"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
)

// MemoryStore implements LearningStore in process memory. Logs are capped
// per name to keep long-running processes bounded.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	logs    map[string][]models.LogEntry
	maxLog  int
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxLogSize caps the number of entries kept per log.
func WithMaxLogSize(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxLog = n
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string][]byte),
		logs:    make(map[string][]models.LogEntry),
		maxLog:  50000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[key]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	b := make([]byte, len(value))
	copy(b, value)
	s.mu.Lock()
	s.records[key] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Append(_ context.Context, log string, entry models.LogEntry) error {
	entry.Log = log
	s.mu.Lock()
	defer s.mu.Unlock()
	l := append(s.logs[log], entry)
	if len(l) > s.maxLog {
		l = l[len(l)-s.maxLog:]
	}
	s.logs[log] = l
	return nil
}

func (s *MemoryStore) QueryRecent(_ context.Context, log, key string, n int) ([]models.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.logs[log]
	tmp := make([]models.LogEntry, 0, n)
	for i := len(l) - 1; i >= 0 && len(tmp) < n; i-- {
		if key != "" && l[i].Key != key {
			continue
		}
		tmp = append(tmp, l[i])
	}
	reverseEntries(tmp)
	return tmp, nil
}

// reverseEntries flips newest-first rows to oldest-first.
func reverseEntries(l []models.LogEntry) {
	for i, j := 0, len(l)-1; i < j; i, j = i+1, j-1 {
		l[i], l[j] = l[j], l[i]
	}
}

var _ domrepo.LearningStore = (*MemoryStore)(nil)
