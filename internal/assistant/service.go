package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/config"
	"github.com/ent0n29/anubis/internal/llm"
	"github.com/ent0n29/anubis/internal/memory"
	"github.com/ent0n29/anubis/internal/observability"
	"github.com/ent0n29/anubis/internal/policy"
	"github.com/ent0n29/anubis/internal/reliability"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

var ErrEmptyPrompt = errors.New("prompt is empty")

// DefaultSystemPrompt is used when the prompt file is missing.
const DefaultSystemPrompt = "Eres Anubis, el guardián del inframundo egipcio, y hablas con los visitantes de un museo. " +
	"Responde siempre en español, con frases breves y solemnes, en un máximo de tres oraciones. " +
	"No uses listas, emojis ni formato markdown."

const voicesTTL = 10 * time.Minute

// Prompt is one visitor utterance to answer.
type Prompt struct {
	Text  string
	Voice string
	Speed int
}

// Config holds the turn policy of the service.
type Config struct {
	SystemPrompt string
	HistoryLimit int
	ResetMode    string
	DefaultVoice string
	DefaultSpeed int
	GoodbyeVoice string
	GoodbyeText  string
	VoicePrefix  string
}

// Deps are the providers and stores behind the service.
type Deps struct {
	LLM      llm.Client
	TTS      tts.Synthesizer
	Store    memory.Store
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Stages   *observability.StageWindow
	Logger   *zap.Logger
}

// Service answers kiosk turns: history, language model, speech sanitation and
// synthesis. Turns of one session never overlap.
type Service struct {
	cfg      Config
	llm      llm.Client
	tts      tts.Synthesizer
	store    memory.Store
	sessions *session.Manager
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	log      *zap.Logger

	voicesMu  sync.Mutex
	voices    []tts.Voice
	voicesAt  time.Time
	voicesTTL time.Duration
}

func New(cfg Config, deps Deps) *Service {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.ResetMode == "" {
		cfg.ResetMode = config.ResetModeHistory
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "Mia"
	}
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = 100
	}
	if cfg.GoodbyeVoice == "" {
		cfg.GoodbyeVoice = "Lucia"
	}
	if cfg.GoodbyeText == "" {
		cfg.GoodbyeText = "DE NADA"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		llm:       deps.LLM,
		tts:       deps.TTS,
		store:     deps.Store,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		stages:    deps.Stages,
		log:       logger,
		voicesTTL: voicesTTL,
	}
}

// LoadSystemPrompt reads the persona prompt file, falling back to the built-in prompt.
func LoadSystemPrompt(path string, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("system prompt file unavailable, using built-in prompt", zap.String("path", path), zap.Error(err))
		return DefaultSystemPrompt
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return DefaultSystemPrompt
	}
	return prompt
}

// Ask answers one visitor prompt with synthesized speech. The exchange is
// appended to the session history once the model has replied.
func (s *Service) Ask(ctx context.Context, sessionID string, p Prompt) (tts.Audio, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return tts.Audio{}, ErrEmptyPrompt
	}
	release, err := s.sessions.BeginTurn(ctx, sessionID)
	if err != nil {
		return tts.Audio{}, err
	}
	defer release()

	start := time.Now()
	audio, err := s.answer(ctx, sessionID, text, p)
	if err != nil {
		s.outcome(observability.OutcomeError)
		return tts.Audio{}, err
	}
	elapsed := time.Since(start)
	s.stages.Observe(observability.StageTurnTotal, elapsed)
	if s.metrics != nil {
		s.metrics.ObserveReplyLatency(elapsed)
	}
	s.outcome(observability.OutcomeReply)
	s.log.Info("turn answered",
		zap.String("session_id", sessionID),
		zap.Duration("elapsed", elapsed),
		zap.Int("audio_bytes", len(audio.Data)),
	)
	return audio, nil
}

func (s *Service) answer(ctx context.Context, sessionID, text string, p Prompt) (tts.Audio, error) {
	stageStart := time.Now()
	history, err := s.store.History(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("load history: %w", err)
	}
	s.stages.Observe(observability.StageHistoryLoad, time.Since(stageStart))

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	for _, rec := range history {
		messages = append(messages, llm.Message{Role: rec.Role, Content: rec.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	stageStart = time.Now()
	reply, err := s.llm.Complete(ctx, messages)
	if err != nil {
		s.providerError(s.llm.Name(), err)
		return tts.Audio{}, fmt.Errorf("llm %s: %w", s.llm.Name(), err)
	}
	s.stages.Observe(observability.StageLLM, time.Since(stageStart))

	if err := s.remember(ctx, sessionID, text, reply); err != nil {
		// The visitor still gets the answer; only the context is lost.
		s.log.Warn("history append failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	spoken := SanitizeSpeechText(reply)
	if spoken == "" {
		spoken = strings.TrimSpace(reply)
	}
	voice := strings.TrimSpace(p.Voice)
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	speed := p.Speed
	if speed <= 0 {
		speed = s.cfg.DefaultSpeed
	}

	stageStart = time.Now()
	audio, err := s.tts.Synthesize(ctx, tts.Request{Text: spoken, VoiceID: voice, Speed: speed})
	if err != nil {
		s.providerError(s.tts.Name(), err)
		return tts.Audio{}, fmt.Errorf("tts %s: %w", s.tts.Name(), err)
	}
	s.stages.Observe(observability.StageTTS, time.Since(stageStart))
	return audio, nil
}

func (s *Service) remember(ctx context.Context, sessionID, user, assistant string) error {
	now := time.Now().UTC()
	records := make([]memory.TurnRecord, 0, 2)
	for i, m := range []struct{ role, content string }{
		{memory.RoleUser, user},
		{memory.RoleAssistant, assistant},
	} {
		redacted, categories := policy.RedactPII(m.content)
		if len(categories) > 0 {
			s.stages.ObserveIndicator("pii_redacted")
		}
		records = append(records, memory.TurnRecord{
			SessionID:   sessionID,
			Role:        m.role,
			Content:     redacted,
			PIIRedacted: len(categories) > 0,
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	return s.store.Append(ctx, records...)
}

// Reset forgets the conversation of a session. In session mode the session
// itself is ended too; the returned flag reports that.
func (s *Service) Reset(ctx context.Context, sessionID string) (bool, error) {
	release, err := s.sessions.BeginTurn(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer release()

	if err := s.store.Clear(ctx, sessionID); err != nil {
		return false, fmt.Errorf("clear history: %w", err)
	}
	_ = s.sessions.MarkReset(sessionID)
	s.outcome(observability.OutcomeReset)

	if s.cfg.ResetMode != config.ResetModeSession {
		s.log.Info("conversation reset", zap.String("session_id", sessionID))
		return false, nil
	}
	if _, err := s.sessions.End(sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("reset_end").Inc()
	}
	s.log.Info("conversation reset, session ended", zap.String("session_id", sessionID))
	return true, nil
}

// Forget drops the history of a session that no longer exists.
func (s *Service) Forget(ctx context.Context, sessionID string) {
	if err := s.store.Clear(ctx, sessionID); err != nil {
		s.log.Warn("clear expired history", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Goodbye synthesizes the closing phrase, as plain text without speed markup.
func (s *Service) Goodbye(ctx context.Context, voice string) (tts.Audio, error) {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = s.cfg.GoodbyeVoice
	}
	audio, err := s.tts.Synthesize(ctx, tts.Request{Text: s.cfg.GoodbyeText, VoiceID: voice, Plain: true})
	if err != nil {
		s.providerError(s.tts.Name(), err)
		return tts.Audio{}, fmt.Errorf("tts %s: %w", s.tts.Name(), err)
	}
	return audio, nil
}

// Voices lists the selectable voices for the configured language prefix.
// Provider listings are cached.
func (s *Service) Voices(ctx context.Context) ([]tts.Voice, error) {
	s.voicesMu.Lock()
	defer s.voicesMu.Unlock()
	if s.voices != nil && time.Since(s.voicesAt) < s.voicesTTL {
		return s.voices, nil
	}
	all, err := s.tts.Voices(ctx)
	if err != nil {
		s.providerError(s.tts.Name(), err)
		return nil, fmt.Errorf("list voices: %w", err)
	}
	s.voices = tts.FilterVoices(all, s.cfg.VoicePrefix)
	s.voicesAt = time.Now()
	return s.voices, nil
}

// Ready checks the history store.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Providers names the active model and speech providers.
func (s *Service) Providers() (llmName, ttsName string) {
	return s.llm.Name(), s.tts.Name()
}

func (s *Service) outcome(outcome string) {
	if s.metrics != nil {
		s.metrics.TurnOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) providerError(provider string, err error) {
	code := "error"
	var se *reliability.StatusError
	switch {
	case errors.As(err, &se):
		code = fmt.Sprintf("http_%d", se.Status)
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case errors.Is(err, context.Canceled):
		code = "canceled"
	}
	if s.metrics != nil {
		s.metrics.ProviderErrors.WithLabelValues(provider, code).Inc()
	}
	s.log.Warn("provider error", zap.String("provider", provider), zap.String("code", code), zap.Error(err))
}
