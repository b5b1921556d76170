package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/assistant"
	"github.com/ent0n29/anubis/internal/config"
	"github.com/ent0n29/anubis/internal/httpapi"
	"github.com/ent0n29/anubis/internal/llm"
	"github.com/ent0n29/anubis/internal/memory"
	"github.com/ent0n29/anubis/internal/observability"
	"github.com/ent0n29/anubis/internal/room"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

// ProviderInfo names the backends that were resolved at startup.
type ProviderInfo struct {
	LLM     string
	TTS     string
	Storage string
	Room    bool
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Assistant *assistant.Service
	Metrics   *observability.Metrics
	Providers ProviderInfo

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(512)

	store, backend, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	model, err := llm.NewClient(ctx, llm.Config{
		Provider:     cfg.LLMProvider,
		Timeout:      cfg.LLMTimeout,
		GroqAPIKey:   cfg.GroqAPIKey,
		GroqModel:    cfg.GroqModel,
		GroqBaseURL:  cfg.GroqBaseURL,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("llm init failed: %w", err)
	}

	synth, err := tts.NewSynthesizer(ctx, tts.Config{
		Provider:         cfg.TTSProvider,
		AWSRegion:        cfg.AWSRegion,
		PollyEngine:      cfg.PollyEngine,
		ElevenLabsAPIKey: cfg.ElevenLabsAPIKey,
		ElevenLabsWSURL:  cfg.ElevenLabsWSBaseURL,
		ElevenLabsAPIURL: cfg.ElevenLabsAPIBaseURL,
		ElevenLabsModel:  cfg.ElevenLabsTTSModel,
		Timeout:          cfg.LLMTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("tts init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	svc := assistant.New(assistant.Config{
		SystemPrompt: assistant.LoadSystemPrompt(cfg.SystemPromptFile, logger),
		HistoryLimit: cfg.HistoryLimit,
		ResetMode:    cfg.ResetMode,
		DefaultVoice: cfg.TTSDefaultVoice,
		DefaultSpeed: cfg.TTSDefaultSpeed,
		GoodbyeVoice: cfg.TTSGoodbyeVoice,
		GoodbyeText:  cfg.TTSGoodbyeText,
		VoicePrefix:  cfg.VoiceLanguagePrefix,
	}, assistant.Deps{
		LLM:      model,
		TTS:      synth,
		Store:    store,
		Sessions: sessions,
		Metrics:  metrics,
		Stages:   stages,
		Logger:   logger.Named("assistant"),
	})

	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		forgetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Forget(forgetCtx, s.ID)
	})

	issuer := room.NewIssuer(room.IssuerConfig{
		URL:       cfg.LiveKitURL,
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
		Room:      cfg.LiveKitRoom,
		TTL:       cfg.LiveKitTokenTTL,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:  sessions,
		Assistant: svc,
		Issuer:    issuer,
		Metrics:   metrics,
		Stages:    stages,
		Logger:    logger.Named("http"),
	})

	cleanup := func() error {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close history store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Assistant: svc,
		Metrics:   metrics,
		Providers: ProviderInfo{
			LLM:     model.Name(),
			TTS:     synth.Name(),
			Storage: backend,
			Room:    issuer.Configured(),
		},
		Cleanup: cleanup,
	}, nil
}
