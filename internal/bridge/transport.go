package bridge

import (
	"context"
	"sync"

	"github.com/ent0n29/anubis/internal/assistant"
	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/protocol"
	"github.com/ent0n29/anubis/internal/room"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

// Assistant is the part of assistant.Service a bridged kiosk talks to.
type Assistant interface {
	Ask(ctx context.Context, sessionID string, p assistant.Prompt) (tts.Audio, error)
	Reset(ctx context.Context, sessionID string) (bool, error)
	Goodbye(ctx context.Context, voice string) (tts.Audio, error)
}

// LocalTransport is an in-process kiosk.Transport bound to one server session.
// When a reset ends the session, the next turn runs in a fresh one.
type LocalTransport struct {
	assistant Assistant
	sessions  *session.Manager
	userAgent string

	mu        sync.Mutex
	sessionID string
}

func NewLocalTransport(a Assistant, sessions *session.Manager, sessionID, userAgent string) *LocalTransport {
	return &LocalTransport{assistant: a, sessions: sessions, sessionID: sessionID, userAgent: userAgent}
}

// SessionID returns the session the next turn runs in.
func (t *LocalTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *LocalTransport) Ask(ctx context.Context, req kiosk.AskRequest) ([]byte, error) {
	audio, err := t.assistant.Ask(ctx, t.live(), assistant.Prompt{Text: req.Prompt, Voice: req.Voice, Speed: req.Speed})
	return audio.Data, err
}

func (t *LocalTransport) Reset(ctx context.Context) error {
	_, err := t.assistant.Reset(ctx, t.live())
	return err
}

func (t *LocalTransport) Goodbye(ctx context.Context, voice string) ([]byte, error) {
	audio, err := t.assistant.Goodbye(ctx, voice)
	return audio.Data, err
}

// KeepAlive refreshes the bound session so an open kiosk between turns is
// not taken for idle by the janitor.
func (t *LocalTransport) KeepAlive() {
	_ = t.sessions.Touch(t.SessionID())
}

// Summary returns the bound session record, if it still exists.
func (t *LocalTransport) Summary() (*session.Session, error) {
	return t.sessions.Get(t.SessionID())
}

// live resolves the bound session, replacing it if it ended or expired.
func (t *LocalTransport) live() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, _ := t.sessions.Resolve(t.sessionID, t.userAgent)
	t.sessionID = s.ID
	return s.ID
}

// RoomRelay hands room credentials to the browser, which joins the real-time
// room itself. It implements kiosk.Room.
type RoomRelay struct {
	issuer   *room.Issuer
	identity string
	send     Sender
}

func NewRoomRelay(issuer *room.Issuer, identity string, send Sender) *RoomRelay {
	return &RoomRelay{issuer: issuer, identity: identity, send: send}
}

func (r *RoomRelay) Join(context.Context) error {
	tok, err := r.issuer.Issue(r.identity)
	if err != nil {
		return err
	}
	r.send(protocol.Room{
		Type:    protocol.TypeRoom,
		Action:  protocol.RoomJoin,
		Token:   tok.Token,
		URL:     tok.URL,
		Channel: tok.Channel,
	})
	return nil
}

func (r *RoomRelay) Leave(context.Context) error {
	r.send(protocol.Room{Type: protocol.TypeRoom, Action: protocol.RoomLeave})
	return nil
}
