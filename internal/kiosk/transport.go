package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/reliability"
	"github.com/ent0n29/anubis/internal/tts"
)

const maxPayloadBytes = 32 << 20

// ErrUnknownVoice is returned by CheckVoice for a voice the server does not offer.
var ErrUnknownVoice = errors.New("voice not offered by the server")

// ErrPayloadTooLarge is returned for server bodies over the size limit.
var ErrPayloadTooLarge = errors.New("server response too large")

// RoomToken is the body of GET /get-token.
type RoomToken struct {
	Token   string `json:"token"`
	AppID   string `json:"appId"`
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// HTTPTransport talks to the kiosk server. The cookie jar carries the session
// cookie, so one transport is one conversation.
type HTTPTransport struct {
	baseURL  string
	client   *http.Client
	log      *zap.Logger
	maxBytes int64
}

func NewHTTPTransport(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPTransport, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Jar: jar, Timeout: timeout},
		log:      logger,
		maxBytes: maxPayloadBytes,
	}, nil
}

// Ask posts the prompt and returns the spoken reply audio.
func (t *HTTPTransport) Ask(ctx context.Context, req AskRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return t.do(ctx, http.MethodPost, "/ask-local-llm", bytes.NewReader(body))
}

// Reset clears the server-side conversation.
func (t *HTTPTransport) Reset(ctx context.Context) error {
	_, err := t.do(ctx, http.MethodPost, "/reset-conversation", nil)
	return err
}

// Goodbye fetches the goodbye phrase audio in the given voice.
func (t *HTTPTransport) Goodbye(ctx context.Context, voice string) ([]byte, error) {
	path := "/api/goodbye-speech"
	if voice != "" {
		path += "?voice=" + url.QueryEscape(voice)
	}
	return t.do(ctx, http.MethodGet, path, nil)
}

// Voices lists the voices the server offers.
func (t *HTTPTransport) Voices(ctx context.Context) ([]tts.Voice, error) {
	raw, err := t.do(ctx, http.MethodGet, "/api/voices", nil)
	if err != nil {
		return nil, err
	}
	var voices []tts.Voice
	if err := json.Unmarshal(raw, &voices); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return voices, nil
}

// CheckVoice verifies the server offers voice and returns the offered ids.
func (t *HTTPTransport) CheckVoice(ctx context.Context, voice string) ([]string, error) {
	voices, err := t.Voices(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(voices))
	found := false
	for _, v := range voices {
		ids = append(ids, v.ID)
		if strings.EqualFold(v.ID, voice) {
			found = true
		}
	}
	if !found {
		return ids, fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
	}
	return ids, nil
}

// Token requests real-time room credentials.
func (t *HTTPTransport) Token(ctx context.Context) (RoomToken, error) {
	raw, err := t.do(ctx, http.MethodGet, "/get-token", nil)
	if err != nil {
		return RoomToken{}, err
	}
	var tok RoomToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return RoomToken{}, fmt.Errorf("decode token: %w", err)
	}
	if tok.Token == "" {
		return RoomToken{}, fmt.Errorf("server returned an empty room token")
	}
	return tok, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if int64(len(raw)) > t.maxBytes {
		return nil, fmt.Errorf("%s %s: %w (over %d bytes)", method, path, ErrPayloadTooLarge, t.maxBytes)
	}
	t.log.Debug("server request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", res.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &reliability.StatusError{
			Provider: "kiosk-server",
			Status:   res.StatusCode,
			Body:     errorMessage(raw),
		}
	}
	return raw, nil
}

// errorMessage extracts {"error": "..."} bodies and truncates anything else.
func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
