package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the server-side identity behind a kiosk cookie.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	UserAgent      string    `json:"user_agent,omitempty"`
	TurnCount      int       `json:"turn_count"`
	ResetCount     int       `json:"reset_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	session *Session
	// turn serializes conversation turns of one session.
	turn chan struct{}
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook registers a callback invoked for every session ended by the janitor.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userAgent string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		UserAgent:      userAgent,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &entry{session: s, turn: make(chan struct{}, 1)}
	return clone(s)
}

// Resolve returns the active session for id and refreshes its activity, or
// creates a new one when id is empty or unknown. created reports the latter.
func (m *Manager) Resolve(id, userAgent string) (s *Session, created bool) {
	if id != "" {
		m.mu.Lock()
		e, ok := m.sessions[id]
		if ok && e.session.Status == StatusActive {
			e.session.LastActivityAt = time.Now().UTC()
			s = clone(e.session)
		}
		m.mu.Unlock()
		if s != nil {
			return s, false
		}
	}
	return m.Create(userAgent), true
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// BeginTurn waits until no other turn of the session is running and claims it.
// The returned release func must be called exactly once.
func (m *Manager) BeginTurn(ctx context.Context, sessionID string) (func(), error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	e.session.TurnCount++
	e.session.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { <-e.turn })
	}, nil
}

// MarkReset records a conversation reset on the session.
func (m *Manager) MarkReset(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.ResetCount++
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// End terminates the session and forgets it; a later request with the same
// cookie starts a fresh session.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, sessionID)
	e.session.Status = StatusEnded
	e.session.LastActivityAt = time.Now().UTC()
	return clone(e.session), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.sessions {
		if now.Sub(e.session.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		// A session with a running turn is not idle.
		if len(e.turn) > 0 {
			continue
		}
		delete(m.sessions, id)
		e.session.Status = StatusEnded
		expired = append(expired, clone(e.session))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
