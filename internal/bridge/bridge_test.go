package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/anubis/internal/assistant"
	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/protocol"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) send(msg any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

// waitFor polls until match accepts the n-th (1-based) matching message.
func (r *recorder) waitFor(t *testing.T, n int, match func(any) bool) any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		seen := 0
		for _, m := range r.snapshot() {
			if match(m) {
				seen++
				if seen == n {
					return m
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message #%d not sent; got %+v", n, r.snapshot())
	return nil
}

func isRecognition(action string) func(any) bool {
	return func(m any) bool {
		r, ok := m.(protocol.Recognition)
		return ok && r.Action == action
	}
}

func isClip(action string) func(any) bool {
	return func(m any) bool {
		c, ok := m.(protocol.Clip)
		return ok && c.Action == action
	}
}

type fakeAssistant struct {
	mu         sync.Mutex
	prompts    []assistant.Prompt
	sessions   []string
	resets     []string
	reply      []byte
	endOnReset bool
	manager    *session.Manager
}

func (f *fakeAssistant) Ask(_ context.Context, sessionID string, p assistant.Prompt) (tts.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	f.sessions = append(f.sessions, sessionID)
	return tts.Audio{Data: f.reply, ContentType: tts.ContentTypeMP3}, nil
}

func (f *fakeAssistant) Reset(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, sessionID)
	if f.endOnReset {
		_, _ = f.manager.End(sessionID)
		return true, nil
	}
	return false, nil
}

func (f *fakeAssistant) Goodbye(context.Context, string) (tts.Audio, error) {
	return tts.Audio{}, errors.New("not used")
}

func TestSessionRunsTurnThroughBrowser(t *testing.T) {
	rec := &recorder{}
	sessions := session.NewManager(time.Minute)
	sid := sessions.Create("test").ID
	fa := &fakeAssistant{reply: []byte("ID3\x03\x00mp3-bytes")}

	opts := kiosk.DefaultOptions()
	s, err := NewSession(Config{
		Options:   opts,
		Language:  "es-ES",
		AssetBase: "/v1/kiosk/assets/",
		Transport: NewLocalTransport(fa, sessions, sid, "test"),
		Send:      rec.send,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	start := rec.waitFor(t, 1, isRecognition(protocol.RecognitionStart)).(protocol.Recognition)
	if start.Language != "es-ES" {
		t.Fatalf("Language = %q, want es-ES", start.Language)
	}
	ambient := rec.waitFor(t, 1, isClip(protocol.ClipLoadLoop)).(protocol.Clip)
	if ambient.Asset != "/v1/kiosk/assets/ambient" {
		t.Fatalf("Asset = %q, want ambient asset url", ambient.Asset)
	}

	s.Handle(protocol.RecognitionEvent{Type: protocol.TypeRecognitionEvent, Event: protocol.RecognitionStarted})
	s.Handle(protocol.RecognitionEvent{Type: protocol.TypeRecognitionEvent, Event: protocol.RecognitionResult, Text: "Hola Anubis", Final: true})
	rec.waitFor(t, 1, isRecognition(protocol.RecognitionStop))
	s.Handle(protocol.RecognitionEvent{Type: protocol.TypeRecognitionEvent, Event: protocol.RecognitionEnded})

	reply := rec.waitFor(t, 1, isClip(protocol.ClipLoadOnce)).(protocol.Clip)
	payload, err := base64.StdEncoding.DecodeString(reply.AudioBase64)
	if err != nil || string(payload) != string(fa.reply) {
		t.Fatalf("reply payload = %q, %v, want assistant audio", payload, err)
	}
	if reply.ContentType != "audio/mpeg" {
		t.Fatalf("ContentType = %q, want audio/mpeg", reply.ContentType)
	}
	rec.waitFor(t, 1, func(m any) bool {
		c, ok := m.(protocol.Clip)
		return ok && c.ClipID == reply.ClipID && c.Action == protocol.ClipPlay
	})
	rec.waitFor(t, 1, func(m any) bool {
		snap, ok := m.(protocol.Snapshot)
		return ok && snap.Speaking && snap.State == "speaking"
	})

	s.Handle(protocol.ClipEvent{Type: protocol.TypeClipEvent, ClipID: reply.ClipID, Event: protocol.ClipEnded})
	rec.waitFor(t, 2, isRecognition(protocol.RecognitionStart))

	fa.mu.Lock()
	if len(fa.prompts) != 1 || fa.prompts[0].Text != "hola anubis" || fa.prompts[0].Voice != opts.Voice {
		t.Fatalf("prompts = %+v, want one lower-cased prompt", fa.prompts)
	}
	if fa.sessions[0] != sid {
		t.Fatalf("session = %q, want %q", fa.sessions[0], sid)
	}
	fa.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestSessionRequiresSenderAndTransport(t *testing.T) {
	if _, err := NewSession(Config{}); err == nil {
		t.Fatalf("NewSession() error = nil, want missing collaborators")
	}
}

func TestPeerClipLifecycle(t *testing.T) {
	rec := &recorder{}
	p := NewPeer(rec.send, "es", "/assets", nil)

	var results []error
	clip, err := p.Once([]byte("RIFF\x00\x00\x00\x00WAVEfmt "), func(err error) { results = append(results, err) })
	if err != nil {
		t.Fatalf("Once() error = %v", err)
	}
	load := rec.snapshot()[0].(protocol.Clip)
	if load.ContentType != "audio/wave" {
		t.Fatalf("ContentType = %q, want audio/wave", load.ContentType)
	}

	if err := clip.Play(); err != nil || !clip.Playing() {
		t.Fatalf("Play() = %v, Playing() = %v", err, clip.Playing())
	}
	p.HandleClip(protocol.ClipEvent{ClipID: load.ClipID, Event: protocol.ClipError, Detail: "NotAllowedError"})
	if clip.Playing() {
		t.Fatalf("Playing() = true after error")
	}
	if len(results) != 1 || results[0] == nil || errors.Is(results[0], kiosk.ErrInterrupted) {
		t.Fatalf("results = %v, want one playback error", results)
	}

	_ = clip.Close()
	_ = clip.Close()
	if len(results) != 1 {
		t.Fatalf("done called %d times, want once", len(results))
	}
	if err := clip.Play(); !errors.Is(err, kiosk.ErrInterrupted) {
		t.Fatalf("Play() after Close = %v, want ErrInterrupted", err)
	}
	p.HandleClip(protocol.ClipEvent{ClipID: load.ClipID, Event: protocol.ClipEnded})
}

func TestPeerCloseClipsInterruptsReplies(t *testing.T) {
	rec := &recorder{}
	p := NewPeer(rec.send, "es", "/assets", nil)

	var got error
	if _, err := p.Once([]byte("mp3"), func(err error) { got = err }); err != nil {
		t.Fatalf("Once() error = %v", err)
	}
	loop, err := p.Loop(AssetAmbient)
	if err != nil {
		t.Fatalf("Loop() error = %v", err)
	}
	loop.SetVolume(0)
	vol := rec.snapshot()[2].(protocol.Clip)
	if vol.Action != protocol.ClipVolume || vol.Volume == nil || *vol.Volume != 0 {
		t.Fatalf("volume command = %+v, want explicit 0", vol)
	}

	p.CloseClips()
	if !errors.Is(got, kiosk.ErrInterrupted) {
		t.Fatalf("done = %v, want ErrInterrupted", got)
	}
	closes := 0
	for _, m := range rec.snapshot() {
		if c, ok := m.(protocol.Clip); ok && c.Action == protocol.ClipClose {
			closes++
		}
	}
	if closes != 2 {
		t.Fatalf("close commands = %d, want 2", closes)
	}
}

func TestLocalTransportReplacesEndedSession(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	sid := sessions.Create("test").ID
	fa := &fakeAssistant{reply: []byte("mp3"), endOnReset: true, manager: sessions}
	tr := NewLocalTransport(fa, sessions, sid, "test")

	if err := tr.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := tr.Ask(context.Background(), kiosk.AskRequest{Prompt: "hola"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if fa.resets[0] != sid {
		t.Fatalf("reset session = %q, want %q", fa.resets[0], sid)
	}
	if fa.sessions[0] == sid || tr.SessionID() != fa.sessions[0] {
		t.Fatalf("ask session = %q, want a fresh session after reset", fa.sessions[0])
	}
}

func TestLocalTransportKeepAliveRefreshesSession(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	sid := sessions.Create("test").ID
	tr := NewLocalTransport(&fakeAssistant{}, sessions, sid, "test")

	before, err := tr.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	tr.KeepAlive()

	after, err := tr.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Fatalf("LastActivityAt = %v, want later than %v", after.LastActivityAt, before.LastActivityAt)
	}

	if _, err := sessions.End(sid); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	tr.KeepAlive()
	if _, err := tr.Summary(); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Summary() after end error = %v, want ErrNotFound", err)
	}
}
