package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps inbox entries in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Start(_ context.Context, key, handlerName string, payload json.RawMessage, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if e.Status != StatusRecoverable {
			return ErrDuplicateMessage
		}
		e.Status = StatusStarted
		e.UpdatedAt = now
		return nil
	}
	s.entries[key] = &Entry{
		IdempotencyKey: key,
		HandlerName:    handlerName,
		Status:         StatusStarted,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      &expiresAt,
	}
	return nil
}

func (s *MemoryStore) MarkStatus(_ context.Context, key string, status Status, result json.RawMessage, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	if result != nil {
		e.Result = result
	}
	e.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecoverStale(_ context.Context, olderThan, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.entries {
		if e.Status == StatusStarted && e.UpdatedAt.Before(olderThan) {
			e.Status = StatusRecoverable
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{TotalEntries: int64(len(s.entries))}
	for _, e := range s.entries {
		switch e.Status {
		case StatusStarted:
			stats.Started++
		case StatusFinished:
			stats.Finished++
		case StatusRecoverable:
			stats.Recoverable++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
