package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/anubis/internal/config"
	"github.com/ent0n29/anubis/internal/llm"
	"github.com/ent0n29/anubis/internal/memory"
	"github.com/ent0n29/anubis/internal/observability"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

type fakeLLM struct {
	mu       sync.Mutex
	calls    [][]llm.Message
	reply    string
	err      error
	block    chan struct{}
	inflight int
	maxIn    int
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.inflight++
	if f.inflight > f.maxIn {
		f.maxIn = f.inflight
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return f.reply, f.err
}

type fakeTTS struct {
	mu       sync.Mutex
	requests []tts.Request
	voices   []tts.Voice
	listed   int
	err      error
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return tts.Audio{}, f.err
	}
	return tts.Audio{Data: []byte("audio:" + req.Text), Format: "mp3", ContentType: tts.ContentTypeMP3}, nil
}

func (f *fakeTTS) Voices(ctx context.Context) ([]tts.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return f.voices, nil
}

type fixture struct {
	svc      *Service
	llm      *fakeLLM
	tts      *fakeTTS
	store    *memory.InMemoryStore
	sessions *session.Manager
	sid      string
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		llm:      &fakeLLM{reply: "Bienvenido a mi **templo** sagrado."},
		tts:      &fakeTTS{},
		store:    memory.NewInMemoryStore(),
		sessions: session.NewManager(time.Minute),
	}
	cfg := Config{SystemPrompt: "Eres Anubis.", VoicePrefix: "es"}
	if mutate != nil {
		mutate(&cfg)
	}
	f.svc = New(cfg, Deps{
		LLM:      f.llm,
		TTS:      f.tts,
		Store:    f.store,
		Sessions: f.sessions,
		Stages:   observability.NewStageWindow(16),
	})
	f.sid = f.sessions.Create("test").ID
	return f
}

func TestAskBuildsConversationAndSpeaks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	audio, err := f.svc.Ask(ctx, f.sid, Prompt{Text: " hola ", Voice: "Sergio", Speed: 80})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if string(audio.Data) != "audio:Bienvenido a mi templo sagrado." {
		t.Fatalf("audio = %q, want sanitized reply spoken", audio.Data)
	}
	req := f.tts.requests[0]
	if req.VoiceID != "Sergio" || req.Speed != 80 || req.Plain {
		t.Fatalf("tts request = %+v, want Sergio at 80 with prosody", req)
	}

	if _, err := f.svc.Ask(ctx, f.sid, Prompt{Text: "¿quién eres?"}); err != nil {
		t.Fatalf("second Ask() error = %v", err)
	}
	second := f.llm.calls[1]
	if len(second) != 4 {
		t.Fatalf("second call messages = %d, want system + 2 history + user", len(second))
	}
	if second[0].Role != llm.RoleSystem || second[0].Content != "Eres Anubis." {
		t.Fatalf("first message = %+v, want system prompt", second[0])
	}
	if second[1].Content != "hola" || second[2].Role != llm.RoleAssistant || second[3].Content != "¿quién eres?" {
		t.Fatalf("messages = %+v, want history then prompt", second)
	}
	if got := f.tts.requests[1]; got.VoiceID != "Mia" || got.Speed != 100 {
		t.Fatalf("default tts request = %+v, want Mia at 100", got)
	}
}

func TestAskRejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Ask(context.Background(), f.sid, Prompt{Text: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("Ask() error = %v, want ErrEmptyPrompt", err)
	}
	if len(f.llm.calls) != 0 {
		t.Fatalf("llm called for an empty prompt")
	}
}

func TestAskFailureKeepsHistoryClean(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.err = errors.New("rate limited")

	if _, err := f.svc.Ask(context.Background(), f.sid, Prompt{Text: "hola"}); err == nil {
		t.Fatalf("Ask() error = nil, want llm failure")
	}
	history, _ := f.store.History(context.Background(), f.sid, 10)
	if len(history) != 0 {
		t.Fatalf("history = %+v, want nothing persisted", history)
	}
	if len(f.tts.requests) != 0 {
		t.Fatalf("tts called after llm failure")
	}
}

func TestAskRedactsPersistedHistory(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Ask(context.Background(), f.sid, Prompt{Text: "mi correo es ana@example.com"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	history, _ := f.store.History(context.Background(), f.sid, 10)
	if len(history) != 2 {
		t.Fatalf("history = %d records, want 2", len(history))
	}
	if strings.Contains(history[0].Content, "ana@example.com") || !history[0].PIIRedacted {
		t.Fatalf("user record = %+v, want email redacted", history[0])
	}
	if f.llm.calls[0][1].Content != "mi correo es ana@example.com" {
		t.Fatalf("the current prompt must reach the model unredacted")
	}
}

func TestAskSerializesTurnsPerSession(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Ask(context.Background(), f.sid, Prompt{Text: "hola"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.llm.block)
	wg.Wait()

	if f.llm.maxIn != 1 {
		t.Fatalf("max concurrent turns = %d, want 1", f.llm.maxIn)
	}
	if len(f.llm.calls) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(f.llm.calls))
	}
}

func TestResetHistoryMode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.Ask(ctx, f.sid, Prompt{Text: "hola"})

	ended, err := f.svc.Reset(ctx, f.sid)
	if err != nil || ended {
		t.Fatalf("Reset() = %v, %v, want history cleared only", ended, err)
	}
	history, _ := f.store.History(ctx, f.sid, 10)
	if len(history) != 0 {
		t.Fatalf("history = %d records after reset, want 0", len(history))
	}
	s, err := f.sessions.Get(f.sid)
	if err != nil || s.ResetCount != 1 {
		t.Fatalf("session = %+v, %v, want live session with one reset", s, err)
	}
}

func TestResetSessionMode(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ResetMode = config.ResetModeSession })
	ctx := context.Background()

	ended, err := f.svc.Reset(ctx, f.sid)
	if err != nil || !ended {
		t.Fatalf("Reset() = %v, %v, want session ended", ended, err)
	}
	if _, err := f.sessions.Get(f.sid); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if ended, err := f.svc.Reset(ctx, f.sid); err != nil || ended {
		t.Fatalf("Reset() of unknown session = %v, %v, want no-op", ended, err)
	}
}

func TestGoodbyeIsPlainText(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Goodbye(context.Background(), ""); err != nil {
		t.Fatalf("Goodbye() error = %v", err)
	}
	req := f.tts.requests[0]
	if req.Text != "DE NADA" || req.VoiceID != "Lucia" || !req.Plain {
		t.Fatalf("goodbye request = %+v, want plain DE NADA in Lucia", req)
	}

	_, _ = f.svc.Goodbye(context.Background(), "Sergio")
	if f.tts.requests[1].VoiceID != "Sergio" {
		t.Fatalf("goodbye voice = %q, want Sergio", f.tts.requests[1].VoiceID)
	}
}

func TestVoicesFilteredAndCached(t *testing.T) {
	f := newFixture(t, nil)
	f.tts.voices = []tts.Voice{
		{ID: "Joanna", Name: "Joanna", LanguageCode: "en-US"},
		{ID: "Sergio", Name: "Sergio", LanguageCode: "es-ES"},
		{ID: "Mia", Name: "Mia", LanguageCode: "es-MX"},
	}
	ctx := context.Background()

	voices, err := f.svc.Voices(ctx)
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "Mia" || voices[1].ID != "Sergio" {
		t.Fatalf("voices = %+v, want Spanish voices by name", voices)
	}
	_, _ = f.svc.Voices(ctx)
	if f.tts.listed != 1 {
		t.Fatalf("provider listed %d times, want cached", f.tts.listed)
	}
}

func TestLoadSystemPromptFallback(t *testing.T) {
	if got := LoadSystemPrompt(t.TempDir()+"/missing.txt", nil); got != DefaultSystemPrompt {
		t.Fatalf("LoadSystemPrompt() = %q, want built-in prompt", got)
	}
}
