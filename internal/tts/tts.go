package tts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("tts provider not configured")
	ErrEmptyText     = errors.New("tts text is empty")
)

const (
	ContentTypeMP3 = "audio/mpeg"
	ContentTypeWAV = "audio/wav"
)

// Request asks for speech in a voice at a speed expressed in percent (100 = normal).
type Request struct {
	Text    string
	VoiceID string
	Speed   int
	// Plain disables speed markup; the goodbye phrase is synthesized as is.
	Plain bool
}

// Audio is a complete synthesized clip.
type Audio struct {
	Data        []byte
	Format      string
	ContentType string
}

// Voice describes one selectable voice. JSON names follow the kiosk page.
type Voice struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	LanguageName string `json:"LanguageName"`
	LanguageCode string `json:"LanguageCode"`
}

// Synthesizer turns text into audio and lists the voices it offers.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
	Voices(ctx context.Context) ([]Voice, error)
	Name() string
}

// Config controls synthesizer construction.
type Config struct {
	Provider         string
	AWSRegion        string
	PollyEngine      string
	ElevenLabsAPIKey string
	ElevenLabsWSURL  string
	ElevenLabsAPIURL string
	ElevenLabsModel  string
	Timeout          time.Duration
}

// NewSynthesizer builds the provider for cfg.Provider: polly, elevenlabs, mock
// or auto. Auto picks ElevenLabs when its key is set, Polly when AWS credentials
// resolve, and the mock synthesizer otherwise.
func NewSynthesizer(ctx context.Context, cfg Config) (Synthesizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "polly":
		return NewPollySynthesizer(ctx, cfg.AWSRegion, cfg.PollyEngine)
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil, fmt.Errorf("elevenlabs: %w: ELEVENLABS_API_KEY is required", ErrNotConfigured)
		}
		return NewElevenLabsSynthesizer(ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			WSBaseURL:  cfg.ElevenLabsWSURL,
			APIBaseURL: cfg.ElevenLabsAPIURL,
			ModelID:    cfg.ElevenLabsModel,
			Timeout:    cfg.Timeout,
		}), nil
	case "mock":
		return NewMockSynthesizer(), nil
	case "auto":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
			return NewSynthesizer(ctx, Config{
				Provider:         "elevenlabs",
				ElevenLabsAPIKey: cfg.ElevenLabsAPIKey,
				ElevenLabsWSURL:  cfg.ElevenLabsWSURL,
				ElevenLabsAPIURL: cfg.ElevenLabsAPIURL,
				ElevenLabsModel:  cfg.ElevenLabsModel,
				Timeout:          cfg.Timeout,
			})
		}
		if p, err := NewPollySynthesizer(ctx, cfg.AWSRegion, cfg.PollyEngine); err == nil && p.HasCredentials(ctx) {
			return p, nil
		}
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.Provider)
	}
}

// FilterVoices keeps voices whose language code starts with prefix, sorted by name.
func FilterVoices(voices []Voice, prefix string) []Voice {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if prefix == "" || strings.HasPrefix(strings.ToLower(v.LanguageCode), prefix) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func normalizeSpeed(percent int) int {
	if percent <= 0 {
		return 100
	}
	if percent < 20 {
		return 20
	}
	if percent > 200 {
		return 200
	}
	return percent
}
