// Package memory implements aster.SessionStore in process memory, for
// development and tests. Everything is lost when the process exits.
package memory

import (
	"context"
	"sync"
	"time"

	aster "github.com/corven/aster"
)

type sessionData struct {
	conversation []aster.Message
	createdAt    time.Time
	updatedAt    time.Time
}

// Store is an in-memory aster.SessionStore.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionData
	usage    map[string][]aster.UsageRecord
	now      func() time.Time
}

var _ aster.SessionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*sessionData),
		usage:    make(map[string][]aster.UsageRecord),
		now:      time.Now,
	}
}

// Load returns a deep copy of the conversation, or an empty slice.
func (s *Store) Load(_ context.Context, sessionID string) ([]aster.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[sessionID]
	if !ok {
		return []aster.Message{}, nil
	}
	return aster.CloneMessages(data.conversation), nil
}

// Save stores a deep copy of the conversation.
func (s *Store) Save(_ context.Context, sessionID string, conversation []aster.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[sessionID]
	if !ok {
		data = &sessionData{createdAt: s.now()}
		s.sessions[sessionID] = data
	}
	data.conversation = aster.CloneMessages(conversation)
	data.updatedAt = s.now()
	return nil
}

// Reset deletes the conversation.
func (s *Store) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// LoadUsage returns a copy of the usage records, or an empty slice.
func (s *Store) LoadUsage(_ context.Context, sessionID string) ([]aster.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.usage[sessionID]
	out := make([]aster.UsageRecord, len(records))
	copy(out, records)
	return out, nil
}

// SaveUsage stores a copy of the usage records.
func (s *Store) SaveUsage(_ context.Context, sessionID string, records []aster.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]aster.UsageRecord, len(records))
	copy(stored, records)
	s.usage[sessionID] = stored
	return nil
}

// ListSessions returns summaries of all stored sessions.
func (s *Store) ListSessions(_ context.Context) ([]aster.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]aster.SessionSummary, 0, len(s.sessions))
	for id, data := range s.sessions {
		out = append(out, aster.SessionSummary{
			SessionID:    id,
			CreatedAt:    data.createdAt,
			UpdatedAt:    data.updatedAt,
			MessageCount: len(data.conversation),
		})
	}
	return out, nil
}

// DeleteSession removes the conversation and its usage.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.usage, sessionID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
