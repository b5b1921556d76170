package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant message of a kiosk conversation.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// stamped fills the identity and timestamp stores leave to the caller.
func (r TurnRecord) stamped(now time.Time) TurnRecord {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r
}

// Store persists conversation history keyed by session.
type Store interface {
	Append(ctx context.Context, records ...TurnRecord) error
	// History returns at most limit of the latest records in chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Clear(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}
