package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/voxrelay/internal/domain"
)

type memoryEntry struct {
	messages  []domain.Message
	updatedAt time.Time
}

// MemoryStore keeps conversations in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the session's history.
func (s *MemoryStore) Get(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.Message, len(e.messages))
	copy(out, e.messages)
	return out, nil
}

// Reset replaces the session's history with seed.
func (s *MemoryStore) Reset(_ context.Context, sessionID string, seed []domain.Message) error {
	msgs := make([]domain.Message, len(seed))
	copy(msgs, seed)

	s.mu.Lock()
	s.entries[sessionID] = &memoryEntry{messages: msgs, updatedAt: s.now()}
	s.mu.Unlock()
	return nil
}

// Append adds messages to an existing history.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return fmt.Errorf("append to %s: %w", sessionID, domain.ErrNotFound)
	}
	e.messages = append(e.messages, msgs...)
	e.updatedAt = s.now()
	return nil
}

// Record appends msgs and caps the history.
func (s *MemoryStore) Record(_ context.Context, sessionID string, max int, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return fmt.Errorf("record %s: %w", sessionID, domain.ErrNotFound)
	}
	e.messages = domain.Trim(append(e.messages, msgs...), max)
	e.updatedAt = s.now()
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return nil
}

// Sweep removes sessions idle for longer than idle.
func (s *MemoryStore) Sweep(_ context.Context, idle time.Duration) (int64, error) {
	if idle <= 0 {
		return 0, nil
	}
	threshold := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, e := range s.entries {
		if e.updatedAt.Before(threshold) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of sessions.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
