package memory

import (
	"context"
	"sync"
	"time"
)

// DefaultSessionCap bounds the records kept per session by InMemoryStore.
const DefaultSessionCap = 200

// InMemoryStore keeps conversation history in process memory. Only the latest
// records of each session are retained; history is lost on restart.
type InMemoryStore struct {
	cap int

	mu       sync.RWMutex
	sessions map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithCap(DefaultSessionCap)
}

// NewInMemoryStoreWithCap keeps at most perSession records of each session.
func NewInMemoryStoreWithCap(perSession int) *InMemoryStore {
	if perSession <= 0 {
		perSession = DefaultSessionCap
	}
	return &InMemoryStore{cap: perSession, sessions: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) Append(_ context.Context, records ...TurnRecord) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r = r.stamped(now)
		kept := append(s.sessions[r.SessionID], r)
		if over := len(kept) - s.cap; over > 0 {
			kept = append(kept[:0:0], kept[over:]...)
		}
		s.sessions[r.SessionID] = kept
	}
	return nil
}

func (s *InMemoryStore) History(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kept := s.sessions[sessionID]
	if limit > 0 && limit < len(kept) {
		kept = kept[len(kept)-limit:]
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return append([]TurnRecord(nil), kept...), nil
}

func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
