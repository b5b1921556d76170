package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Reset modes for POST /reset-conversation.
const (
	ResetModeHistory = "history"
	ResetModeSession = "session"
)

// Config contains all runtime settings for the kiosk server.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string
	LogFormat                string

	AllowAnyOrigin bool

	SessionCookieName   string
	SessionCookieSecure bool
	ResetMode           string

	SystemPromptFile string
	HistoryLimit     int

	LLMProvider  string
	LLMTimeout   time.Duration
	GroqAPIKey   string
	GroqModel    string
	GroqBaseURL  string
	GeminiAPIKey string
	GeminiModel  string

	TTSProvider         string
	TTSDefaultVoice     string
	TTSDefaultSpeed     int
	TTSGoodbyeVoice     string
	TTSGoodbyeText      string
	VoiceLanguagePrefix string
	AWSRegion           string
	PollyEngine         string

	ElevenLabsAPIKey     string
	ElevenLabsWSBaseURL  string
	ElevenLabsAPIBaseURL string
	ElevenLabsTTSModel   string

	DatabaseURL string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitRoom      string
	LiveKitTokenTTL  time.Duration

	// Kiosk holds the settings of controllers run behind the websocket bridge.
	Kiosk KioskConfig
}

// Load reads the optional .env file and environment variables and applies safe defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":3001"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "anubis"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
		AllowAnyOrigin:       false,
		SessionCookieName:    envOrDefault("SESSION_COOKIE_NAME", "anubis_sid"),
		ResetMode:            strings.ToLower(envOrDefault("RESET_MODE", ResetModeHistory)),
		SystemPromptFile:     envOrDefault("SYSTEM_PROMPT_FILE", "system_prompt.txt"),
		HistoryLimit:         20,
		LLMProvider:          strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMTimeout:           30 * time.Second,
		GroqAPIKey:           stringsTrimSpace("GROQ_API_KEY"),
		GroqModel:            envOrDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		GroqBaseURL:          envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GeminiAPIKey:         stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:          envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		TTSProvider:          strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		TTSDefaultVoice:      envOrDefault("TTS_DEFAULT_VOICE", "Mia"),
		TTSDefaultSpeed:      100,
		TTSGoodbyeVoice:      envOrDefault("TTS_GOODBYE_VOICE", "Lucia"),
		TTSGoodbyeText:       envOrDefault("TTS_GOODBYE_TEXT", "DE NADA"),
		VoiceLanguagePrefix:  envOrDefault("VOICE_LANGUAGE_PREFIX", "es"),
		AWSRegion:            envOrDefault("AWS_REGION", "us-east-1"),
		PollyEngine:          envOrDefault("POLLY_ENGINE", "neural"),
		ElevenLabsAPIKey:     stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:  envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsAPIBaseURL: envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsTTSModel:   envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		LiveKitURL:           stringsTrimSpace("LIVEKIT_URL"),
		LiveKitAPIKey:        stringsTrimSpace("LIVEKIT_API_KEY"),
		LiveKitAPISecret:     stringsTrimSpace("LIVEKIT_API_SECRET"),
		LiveKitRoom:          envOrDefault("LIVEKIT_ROOM", "anubis"),
		LiveKitTokenTTL:      time.Hour,
		ShutdownTimeout:      15 * time.Second,
		// Kiosk visitors often leave without saying goodbye.
		SessionInactivityTimeout: 30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveKitTokenTTL, err = durationFromEnv("LIVEKIT_TOKEN_TTL", cfg.LiveKitTokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSDefaultSpeed, err = intFromEnv("TTS_DEFAULT_SPEED", cfg.TTSDefaultSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionCookieSecure, err = boolFromEnv("SESSION_COOKIE_SECURE", cfg.SessionCookieSecure)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ResetMode != ResetModeHistory && cfg.ResetMode != ResetModeSession {
		return Config{}, fmt.Errorf("invalid RESET_MODE: %q (expected history|session)", cfg.ResetMode)
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.TTSDefaultSpeed < 20 || cfg.TTSDefaultSpeed > 200 {
		return Config{}, fmt.Errorf("TTS_DEFAULT_SPEED must be within [20,200]")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}

	cfg.Kiosk, err = kioskFromEnv()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFile() error {
	path := envOrDefault("APP_ENV_FILE", ".env")
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
