package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/llm-mail-sorter/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the FingerprintStore
// interface. State does not survive restarts, so it is only suitable for
// tests and dry-run experiments.
type MemoryStore struct {
	records map[string]*core.ProcessedRecord
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory fingerprint store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*core.ProcessedRecord),
		logger:  logger,
	}
}

// Has reports whether a processed record exists for the fingerprint
func (s *MemoryStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[fingerprint]
	return ok, nil
}

// Record stores a processed record; an already-present fingerprint is a no-op
func (s *MemoryStore) Record(ctx context.Context, rec *core.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Fingerprint]; ok {
		return nil
	}
	cloned := *rec
	s.records[rec.Fingerprint] = &cloned
	return nil
}

// Prune deletes records older than the given age, optionally scoped to one account
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for fp, rec := range s.records {
		if account != "" && rec.Account != account {
			continue
		}
		if rec.ProcessedAt.Before(cutoff) {
			delete(s.records, fp)
			deleted++
		}
	}

	return deleted, nil
}

// Reset deletes all records, optionally scoped to one account
func (s *MemoryStore) Reset(ctx context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for fp, rec := range s.records {
		if account != "" && rec.Account != account {
			continue
		}
		delete(s.records, fp)
		deleted++
	}

	return deleted, nil
}

// List streams records through fn, oldest first, optionally scoped to one account
func (s *MemoryStore) List(ctx context.Context, account string, fn func(*core.ProcessedRecord) error) error {
	s.mu.RLock()
	snapshot := make([]*core.ProcessedRecord, 0, len(s.records))
	for _, rec := range s.records {
		if account != "" && rec.Account != account {
			continue
		}
		cloned := *rec
		snapshot = append(snapshot, &cloned)
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ProcessedAt.Before(snapshot[j].ProcessedAt)
	})

	for _, rec := range snapshot {
		if err := fn(rec); err != nil {
			return err
		}
	}

	return nil
}

// CategoryStats returns per-category record counts, optionally scoped to one account
func (s *MemoryStore) CategoryStats(ctx context.Context, account string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, rec := range s.records {
		if account != "" && rec.Account != account {
			continue
		}
		stats[rec.Category]++
	}

	return stats, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
