package session

import (
	"context"
	"sync"
	"time"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// MemoryStore is an in-memory Store for development and tests. It mirrors
// the KV store's key schema and read policy but ignores the hard TTL.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session

	// now is swappable so tests can age records.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID, chatID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[CompositeKey(userID, chatID)]; ok {
		visible, expire := resolve(sess, chatID, false, now)
		if expire {
			delete(s.sessions, CompositeKey(userID, chatID))
		}
		if visible {
			return sess, nil
		}
		return nil, nil
	}

	sess, ok := s.sessions[LegacyKey(userID)]
	if !ok {
		return nil, nil
	}
	visible, expire := resolve(sess, chatID, true, now)
	if expire {
		delete(s.sessions, LegacyKey(userID))
	}
	if visible {
		return sess, nil
	}
	return nil, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, userID, chatID string, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.ChatID = chatID
	sess.Timestamp = s.now()
	s.sessions[CompositeKey(userID, chatID)] = sess
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, CompositeKey(userID, chatID))
	delete(s.sessions, LegacyKey(userID))
	return nil
}

// SeedLegacy stores a session under the legacy user-only key. Used by tests
// and migration tooling.
func (s *MemoryStore) SeedLegacy(userID string, sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[LegacyKey(userID)] = sess
}

// Backdate rewrites the stored timestamp for a composite key. Test helper.
func (s *MemoryStore) Backdate(userID, chatID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[CompositeKey(userID, chatID)]; ok {
		sess.Timestamp = ts
	}
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
