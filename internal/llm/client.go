package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrEmptyReply    = errors.New("llm returned an empty reply")
	ErrNotConfigured = errors.New("llm provider not configured")
)

// Message is one chat message sent to a language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces the assistant reply for a conversation.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// Config controls client construction.
type Config struct {
	Provider     string
	Timeout      time.Duration
	GroqAPIKey   string
	GroqModel    string
	GroqBaseURL  string
	GeminiAPIKey string
	GeminiModel  string
}

// NewClient builds the client for cfg.Provider: groq, gemini, mock or auto.
// Auto prefers Groq, falls back to Gemini when both keys are present, and uses
// the mock client when no key is configured.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoClient(ctx, cfg)
	case "groq":
		if strings.TrimSpace(cfg.GroqAPIKey) == "" {
			return nil, fmt.Errorf("groq: %w: GROQ_API_KEY is required", ErrNotConfigured)
		}
		return NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, cfg.Timeout), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("gemini: %w: GEMINI_API_KEY is required", ErrNotConfigured)
		}
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeout)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newAutoClient(ctx context.Context, cfg Config) (Client, error) {
	var clients []Client
	if strings.TrimSpace(cfg.GroqAPIKey) != "" {
		clients = append(clients, NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, cfg.Timeout))
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		clients = append(clients, gemini)
	}

	switch len(clients) {
	case 0:
		return NewMockClient(), nil
	case 1:
		return clients[0], nil
	default:
		return NewFallbackClient(clients[0], clients[1]), nil
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
