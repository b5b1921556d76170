package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ResetMode != ResetModeHistory {
		t.Fatalf("ResetMode = %q, want %q", cfg.ResetMode, ResetModeHistory)
	}
	if cfg.TTSDefaultVoice != "Mia" || cfg.TTSGoodbyeVoice != "Lucia" {
		t.Fatalf("voices = %q/%q, want Mia/Lucia", cfg.TTSDefaultVoice, cfg.TTSGoodbyeVoice)
	}
	if cfg.TTSGoodbyeText != "DE NADA" {
		t.Fatalf("TTSGoodbyeText = %q, want %q", cfg.TTSGoodbyeText, "DE NADA")
	}
	if cfg.GroqModel != "llama-3.1-8b-instant" {
		t.Fatalf("GroqModel = %q, want llama-3.1-8b-instant", cfg.GroqModel)
	}
	if cfg.Kiosk.SuspenseFade != 3*time.Second || cfg.Kiosk.SuspenseFadeSteps != 50 {
		t.Fatalf("suspense fade = %s/%d, want 3s/50", cfg.Kiosk.SuspenseFade, cfg.Kiosk.SuspenseFadeSteps)
	}
	if !cfg.Kiosk.AutoConnect {
		t.Fatalf("Kiosk.AutoConnect = false, want true")
	}
	if len(cfg.Kiosk.ResetPhrases) != 6 {
		t.Fatalf("len(Kiosk.ResetPhrases) = %d, want 6", len(cfg.Kiosk.ResetPhrases))
	}
}

func TestLoadRejectsUnknownResetMode(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("RESET_MODE", "everything")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want invalid RESET_MODE")
	}
}

func TestLoadKioskOpenDecisions(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("KIOSK_AUTO_CONNECT", "false")
	t.Setenv("KIOSK_SUSPENSE_STOP", "stop")
	t.Setenv("KIOSK_FAREWELL", "goodbye_audio")
	t.Setenv("KIOSK_RESET_PHRASES", " chao , , basta ")
	t.Setenv("KIOSK_SERVER_URL", "http://kiosk.local:3001/")

	cfg, err := LoadKiosk()
	if err != nil {
		t.Fatalf("LoadKiosk() error = %v", err)
	}
	if cfg.AutoConnect {
		t.Fatalf("AutoConnect = true, want false")
	}
	if cfg.SuspenseStop != SuspenseStopHard {
		t.Fatalf("SuspenseStop = %q, want %q", cfg.SuspenseStop, SuspenseStopHard)
	}
	if cfg.Farewell != FarewellGoodbyeAudio {
		t.Fatalf("Farewell = %q, want %q", cfg.Farewell, FarewellGoodbyeAudio)
	}
	if len(cfg.ResetPhrases) != 2 || cfg.ResetPhrases[0] != "chao" || cfg.ResetPhrases[1] != "basta" {
		t.Fatalf("ResetPhrases = %#v, want [chao basta]", cfg.ResetPhrases)
	}
	if cfg.ServerURL != "http://kiosk.local:3001" {
		t.Fatalf("ServerURL = %q, want trailing slash trimmed", cfg.ServerURL)
	}
}

func TestLoadKioskRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"KIOSK_SUSPENSE_STOP":       "slowly",
		"KIOSK_FAREWELL":            "wave",
		"KIOSK_AMBIENT_VOLUME":      "1.5",
		"KIOSK_SUSPENSE_FADE_STEPS": "0",
		"KIOSK_AUTO_CONNECT":        "maybe",
		"KIOSK_RECOGNIZER":          "elevenlabs",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := LoadKiosk(); err == nil {
				t.Fatalf("LoadKiosk() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	setCoreEnvEmpty(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "GROQ_MODEL=from-file\nLIVEKIT_ROOM=lobby\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_ENV_FILE", path)
	t.Setenv("LIVEKIT_ROOM", "explicit")
	// godotenv only fills variables that are absent from the environment.
	os.Unsetenv("GROQ_MODEL")
	t.Cleanup(func() { os.Unsetenv("GROQ_MODEL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GroqModel != "from-file" {
		t.Fatalf("GroqModel = %q, want value from env file", cfg.GroqModel)
	}
	if cfg.LiveKitRoom != "explicit" {
		t.Fatalf("LiveKitRoom = %q, want explicit environment value", cfg.LiveKitRoom)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_ENV_FILE",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"SESSION_COOKIE_NAME",
		"SESSION_COOKIE_SECURE",
		"RESET_MODE",
		"HISTORY_LIMIT",
		"LLM_PROVIDER",
		"LLM_TIMEOUT",
		"GROQ_API_KEY",
		"GEMINI_API_KEY",
		"TTS_PROVIDER",
		"TTS_DEFAULT_VOICE",
		"TTS_DEFAULT_SPEED",
		"TTS_GOODBYE_VOICE",
		"TTS_GOODBYE_TEXT",
		"ELEVENLABS_API_KEY",
		"DATABASE_URL",
		"LIVEKIT_URL",
		"LIVEKIT_API_KEY",
		"LIVEKIT_API_SECRET",
		"LIVEKIT_ROOM",
		"LIVEKIT_TOKEN_TTL",
		"KIOSK_SERVER_URL",
		"KIOSK_AUTO_CONNECT",
		"KIOSK_JOIN_ROOM",
		"KIOSK_SPEED",
		"KIOSK_RESET_PHRASES",
		"KIOSK_FAREWELL",
		"KIOSK_SUSPENSE_STOP",
		"KIOSK_SUSPENSE_FADE",
		"KIOSK_SUSPENSE_FADE_STEPS",
		"KIOSK_SUSPENSE_VOLUME",
		"KIOSK_AMBIENT_VOLUME",
		"KIOSK_AMBIENT_DUCK_VOLUME",
		"KIOSK_RECOGNIZER",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
	// Keep the working directory's .env out of the tests.
	t.Setenv("APP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}
