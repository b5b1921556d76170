package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	SuspenseStopFade = "fade"
	SuspenseStopHard = "stop"

	FarewellMessage      = "message"
	FarewellGoodbyeAudio = "goodbye_audio"
)

// KioskConfig contains the settings of a conversation controller, native or bridged.
type KioskConfig struct {
	ServerURL      string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string

	AutoConnect bool
	JoinRoom    bool

	Voice string
	Speed int

	ResetPhrases []string
	Farewell     string

	SuspenseStop      string
	SuspenseFade      time.Duration
	SuspenseFadeSteps int
	SuspenseVolume    float64
	AmbientVolume     float64
	AmbientDuckVolume float64

	AmbientAsset  string
	SuspenseAsset string

	Recognizer       string
	NoSpeechTimeout  time.Duration
	ElevenLabsAPIKey string
	ElevenLabsWSURL  string
	STTModelID       string
	STTLanguage      string
	MicSampleRate    int
	// BrowserLanguage is the recognition language of bridged browser kiosks.
	BrowserLanguage  string
}

// LoadKiosk reads the optional .env file and the KIOSK_* variables for the native kiosk.
func LoadKiosk() (KioskConfig, error) {
	if err := loadEnvFile(); err != nil {
		return KioskConfig{}, err
	}
	return kioskFromEnv()
}

// DefaultResetPhrases are the utterances that end a conversation instead of being forwarded.
func DefaultResetPhrases() []string {
	return []string{"adios", "gracias", "hasta luego", "terminar", "reiniciar", "olvida todo"}
}

func kioskFromEnv() (KioskConfig, error) {
	cfg := KioskConfig{
		ServerURL:         strings.TrimRight(envOrDefault("KIOSK_SERVER_URL", "http://localhost:3001"), "/"),
		RequestTimeout:    60 * time.Second,
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("KIOSK_LOG_FORMAT", "console"),
		AutoConnect:       true,
		Voice:             envOrDefault("KIOSK_VOICE", "Sergio"),
		Speed:             80,
		ResetPhrases:      DefaultResetPhrases(),
		Farewell:          strings.ToLower(envOrDefault("KIOSK_FAREWELL", FarewellMessage)),
		SuspenseStop:      strings.ToLower(envOrDefault("KIOSK_SUSPENSE_STOP", SuspenseStopFade)),
		SuspenseFade:      3 * time.Second,
		SuspenseFadeSteps: 50,
		SuspenseVolume:    0.5,
		AmbientVolume:     0.2,
		AmbientDuckVolume: 0.05,
		AmbientAsset:      envOrDefault("KIOSK_AMBIENT_ASSET", "assets/ambient.mp3"),
		SuspenseAsset:     envOrDefault("KIOSK_SUSPENSE_ASSET", "assets/suspense.mp3"),
		Recognizer:        strings.ToLower(envOrDefault("KIOSK_RECOGNIZER", "console")),
		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSURL:   envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		STTModelID:        envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		STTLanguage:       envOrDefault("KIOSK_STT_LANGUAGE", "es"),
		MicSampleRate:     16000,
		BrowserLanguage:   envOrDefault("KIOSK_BROWSER_LANGUAGE", "es-ES"),
	}

	if raw := stringsTrimSpace("KIOSK_RESET_PHRASES"); raw != "" {
		cfg.ResetPhrases = splitList(raw)
	}

	var err error
	if cfg.RequestTimeout, err = durationFromEnv("KIOSK_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return KioskConfig{}, err
	}
	if cfg.SuspenseFade, err = durationFromEnv("KIOSK_SUSPENSE_FADE", cfg.SuspenseFade); err != nil {
		return KioskConfig{}, err
	}
	if cfg.NoSpeechTimeout, err = durationFromEnv("KIOSK_NO_SPEECH_TIMEOUT", cfg.NoSpeechTimeout); err != nil {
		return KioskConfig{}, err
	}
	if cfg.SuspenseFadeSteps, err = intFromEnv("KIOSK_SUSPENSE_FADE_STEPS", cfg.SuspenseFadeSteps); err != nil {
		return KioskConfig{}, err
	}
	if cfg.Speed, err = intFromEnv("KIOSK_SPEED", cfg.Speed); err != nil {
		return KioskConfig{}, err
	}
	if cfg.MicSampleRate, err = intFromEnv("KIOSK_MIC_SAMPLE_RATE", cfg.MicSampleRate); err != nil {
		return KioskConfig{}, err
	}
	if cfg.AutoConnect, err = boolFromEnv("KIOSK_AUTO_CONNECT", cfg.AutoConnect); err != nil {
		return KioskConfig{}, err
	}
	if cfg.JoinRoom, err = boolFromEnv("KIOSK_JOIN_ROOM", cfg.JoinRoom); err != nil {
		return KioskConfig{}, err
	}
	if cfg.SuspenseVolume, err = floatFromEnv("KIOSK_SUSPENSE_VOLUME", cfg.SuspenseVolume); err != nil {
		return KioskConfig{}, err
	}
	if cfg.AmbientVolume, err = floatFromEnv("KIOSK_AMBIENT_VOLUME", cfg.AmbientVolume); err != nil {
		return KioskConfig{}, err
	}
	if cfg.AmbientDuckVolume, err = floatFromEnv("KIOSK_AMBIENT_DUCK_VOLUME", cfg.AmbientDuckVolume); err != nil {
		return KioskConfig{}, err
	}

	switch cfg.SuspenseStop {
	case SuspenseStopFade, SuspenseStopHard:
	default:
		return KioskConfig{}, fmt.Errorf("invalid KIOSK_SUSPENSE_STOP: %q (expected fade|stop)", cfg.SuspenseStop)
	}
	switch cfg.Farewell {
	case FarewellMessage, FarewellGoodbyeAudio:
	default:
		return KioskConfig{}, fmt.Errorf("invalid KIOSK_FAREWELL: %q (expected message|goodbye_audio)", cfg.Farewell)
	}
	switch cfg.Recognizer {
	case "console", "elevenlabs":
	default:
		return KioskConfig{}, fmt.Errorf("invalid KIOSK_RECOGNIZER: %q (expected console|elevenlabs)", cfg.Recognizer)
	}
	if cfg.Recognizer == "elevenlabs" && cfg.ElevenLabsAPIKey == "" {
		return KioskConfig{}, fmt.Errorf("KIOSK_RECOGNIZER=elevenlabs requires ELEVENLABS_API_KEY")
	}
	if cfg.SuspenseFadeSteps <= 0 {
		return KioskConfig{}, fmt.Errorf("KIOSK_SUSPENSE_FADE_STEPS must be positive")
	}
	if cfg.Speed < 20 || cfg.Speed > 200 {
		return KioskConfig{}, fmt.Errorf("KIOSK_SPEED must be within [20,200]")
	}
	for key, v := range map[string]float64{
		"KIOSK_SUSPENSE_VOLUME":     cfg.SuspenseVolume,
		"KIOSK_AMBIENT_VOLUME":      cfg.AmbientVolume,
		"KIOSK_AMBIENT_DUCK_VOLUME": cfg.AmbientDuckVolume,
	} {
		if v < 0 || v > 1 {
			return KioskConfig{}, fmt.Errorf("%s must be within [0,1]", key)
		}
	}
	if len(cfg.ResetPhrases) == 0 {
		return KioskConfig{}, fmt.Errorf("KIOSK_RESET_PHRASES must not be empty")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
