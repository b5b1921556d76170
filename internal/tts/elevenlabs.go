package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/anubis/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	APIBaseURL   string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
}

// ElevenLabsSynthesizer streams text into the ElevenLabs websocket API and
// collects the returned audio into one clip.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsSynthesizer{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *ElevenLabsSynthesizer) Name() string { return "elevenlabs" }

func (p *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return Audio{}, fmt.Errorf("elevenlabs: voice_id is required")
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID) + "/stream-input")
	if err != nil {
		return Audio{}, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.ModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return Audio{}, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.42,
				"similarity_boost": 0.85,
				"speed":            elevenLabsSpeed(req.Speed),
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	if req.Plain {
		messages[0]["voice_settings"].(map[string]any)["speed"] = 1.0
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return Audio{}, fmt.Errorf("write tts websocket: %w", err)
		}
	}

	var out []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Audio{}, ctx.Err()
			}
			// The server closes the stream after the final chunk.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(out) > 0 {
				break
			}
			return Audio{}, fmt.Errorf("read tts websocket: %w", err)
		}
		var msg struct {
			Audio       string `json:"audio"`
			IsFinal     bool   `json:"isFinal"`
			Error       string `json:"error"`
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return Audio{}, fmt.Errorf("elevenlabs tts %s: %s", msg.MessageType, msg.Error)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return Audio{}, fmt.Errorf("decode tts audio: %w", err)
			}
			out = append(out, chunk...)
		}
		if msg.IsFinal {
			break
		}
	}
	if len(out) == 0 {
		return Audio{}, fmt.Errorf("elevenlabs tts returned no audio")
	}
	return Audio{Data: out, Format: p.cfg.OutputFormat, ContentType: ContentTypeMP3}, nil
}

func (p *ElevenLabsSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.APIBaseURL, "/")+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs voices: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &reliability.StatusError{Provider: "elevenlabs", Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed struct {
		Voices []struct {
			VoiceID string            `json:"voice_id"`
			Name    string            `json:"name"`
			Labels  map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("elevenlabs voices json: %w", err)
	}

	voices := make([]Voice, 0, len(parsed.Voices))
	for _, v := range parsed.Voices {
		id := strings.TrimSpace(v.VoiceID)
		name := strings.TrimSpace(v.Name)
		if id == "" || name == "" {
			continue
		}
		lang := strings.TrimSpace(v.Labels["language"])
		langName := strings.TrimSpace(v.Labels["accent"])
		if langName == "" {
			langName = lang
		}
		voices = append(voices, Voice{ID: id, Name: name, LanguageName: langName, LanguageCode: lang})
	}
	return voices, nil
}

// elevenLabsSpeed maps a percent speed onto the range the API accepts.
func elevenLabsSpeed(percent int) float64 {
	s := float64(normalizeSpeed(percent)) / 100
	if s < 0.7 {
		return 0.7
	}
	if s > 1.2 {
		return 1.2
	}
	return s
}
