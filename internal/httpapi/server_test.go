package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/anubis/internal/assistant"
	"github.com/ent0n29/anubis/internal/config"
	"github.com/ent0n29/anubis/internal/llm"
	"github.com/ent0n29/anubis/internal/memory"
	"github.com/ent0n29/anubis/internal/observability"
	"github.com/ent0n29/anubis/internal/room"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

var metricsSeq atomic.Int64

func testConfig() config.Config {
	return config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		SessionCookieName:        "anubis_sid",
		ResetMode:                config.ResetModeHistory,
		Kiosk: config.KioskConfig{
			BrowserLanguage:   "es-ES",
			Voice:             "Sergio",
			Speed:             80,
			Farewell:          config.FarewellMessage,
			SuspenseStop:      config.SuspenseStopHard,
			SuspenseVolume:    0.5,
			AmbientVolume:     0.2,
			AmbientDuckVolume: 0.05,
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config, issuer *room.Issuer) (*httptest.Server, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	stages := observability.NewStageWindow(32)
	svc := assistant.New(assistant.Config{
		SystemPrompt: "Eres Anubis.",
		ResetMode:    cfg.ResetMode,
		VoicePrefix:  "es",
	}, assistant.Deps{
		LLM:      llm.NewMockClient(),
		TTS:      tts.NewMockSynthesizer(),
		Store:    memory.NewInMemoryStore(),
		Sessions: sessions,
		Metrics:  metrics,
		Stages:   stages,
	})
	srv := New(cfg, Deps{
		Sessions:  sessions,
		Assistant: svc,
		Issuer:    issuer,
		Metrics:   metrics,
		Stages:    stages,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAskReturnsAudioAndSetsSessionCookie(t *testing.T) {
	ts, sessions := newTestServer(t, testConfig(), nil)
	client := newClient(t)

	res := postJSON(t, client, ts.URL+"/ask-local-llm", map[string]any{"prompt": "Hola", "voice": "Sergio", "speed": 80})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ask status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := res.Header.Get("Content-Type"); got != tts.ContentTypeWAV {
		t.Fatalf("Content-Type = %q, want %q", got, tts.ContentTypeWAV)
	}
	body, _ := io.ReadAll(res.Body)
	if !bytes.HasPrefix(body, []byte("RIFF")) {
		t.Fatalf("ask body is not a WAV clip: %q", body[:min(len(body), 8)])
	}
	var sid string
	for _, c := range res.Cookies() {
		if c.Name == "anubis_sid" {
			sid = c.Value
		}
	}
	if sid == "" {
		t.Fatalf("ask response did not set the session cookie")
	}
	if sessions.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", sessions.ActiveCount())
	}

	// The same visitor keeps the same session.
	res2 := postJSON(t, client, ts.URL+"/ask-local-llm", map[string]any{"prompt": "¿Quién eres?"})
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("second ask status = %d, want %d", res2.StatusCode, http.StatusOK)
	}
	if len(res2.Cookies()) != 0 {
		t.Fatalf("second ask reissued the cookie: %+v", res2.Cookies())
	}
	if sessions.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() after second ask = %d, want 1", sessions.ActiveCount())
	}
}

func TestAskRejectsMissingPrompt(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)
	client := newClient(t)

	for _, body := range []any{map[string]any{}, map[string]any{"prompt": "   "}} {
		res := postJSON(t, client, ts.URL+"/ask-local-llm", body)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
		}
		var got errorResponse
		decodeBody(t, res, &got)
		if got.Error != "No se recibió ningún prompt." {
			t.Fatalf("error = %q, want the missing prompt message", got.Error)
		}
	}
}

func TestAskAcceptsFractionalSpeed(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)

	ask := func(speed any) []byte {
		t.Helper()
		res := postJSON(t, newClient(t), ts.URL+"/ask-local-llm", map[string]any{"prompt": "Hola", "speed": speed})
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("speed %v: status = %d, want %d", speed, res.StatusCode, http.StatusOK)
		}
		body, _ := io.ReadAll(res.Body)
		return body
	}
	whole := ask(50)
	fractional := ask(49.6)
	if len(whole) != len(fractional) {
		t.Fatalf("speed 49.6 gave %d bytes, want %d like speed 50", len(fractional), len(whole))
	}
}

func TestAskRejectsMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)

	res, err := newClient(t).Post(ts.URL+"/ask-local-llm", "application/json", strings.NewReader(`{"prompt": "Hola", "speed": "rápido"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	var got errorResponse
	decodeBody(t, res, &got)
	if got.Code != "invalid_request" || got.Error == "No se recibió ningún prompt." {
		t.Fatalf("error = %+v, want an invalid_request message", got)
	}
}

func TestResetConversation(t *testing.T) {
	ts, sessions := newTestServer(t, testConfig(), nil)
	client := newClient(t)

	postJSON(t, client, ts.URL+"/ask-local-llm", map[string]any{"prompt": "Hola"}).Body.Close()
	res := postJSON(t, client, ts.URL+"/reset-conversation", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got messageResponse
	decodeBody(t, res, &got)
	if got.Message != "Conversación reiniciada." {
		t.Fatalf("message = %q, want %q", got.Message, "Conversación reiniciada.")
	}
	if sessions.ActiveCount() != 1 {
		t.Fatalf("history reset ended the session: ActiveCount() = %d", sessions.ActiveCount())
	}
}

func TestResetConversationSessionModeExpiresCookie(t *testing.T) {
	cfg := testConfig()
	cfg.ResetMode = config.ResetModeSession
	ts, sessions := newTestServer(t, cfg, nil)
	client := newClient(t)

	postJSON(t, client, ts.URL+"/ask-local-llm", map[string]any{"prompt": "Hola"}).Body.Close()
	res := postJSON(t, client, ts.URL+"/reset-conversation", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	expired := false
	for _, c := range res.Cookies() {
		if c.Name == "anubis_sid" && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Fatalf("session reset did not expire the cookie: %+v", res.Cookies())
	}
	if sessions.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", sessions.ActiveCount())
	}
}

func TestVoicesAndGoodbye(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)

	res, err := http.Get(ts.URL + "/api/voices")
	if err != nil {
		t.Fatalf("GET /api/voices error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("voices status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var voices []tts.Voice
	decodeBody(t, res, &voices)
	if len(voices) != 4 {
		t.Fatalf("len(voices) = %d, want 4 Spanish voices", len(voices))
	}
	for _, v := range voices {
		if !strings.HasPrefix(v.LanguageCode, "es") {
			t.Fatalf("voice %s has language %s, want es-*", v.ID, v.LanguageCode)
		}
	}

	gres, err := http.Get(ts.URL + "/api/goodbye-speech?voice=Lucia")
	if err != nil {
		t.Fatalf("GET /api/goodbye-speech error = %v", err)
	}
	defer gres.Body.Close()
	if gres.StatusCode != http.StatusOK {
		t.Fatalf("goodbye status = %d, want %d", gres.StatusCode, http.StatusOK)
	}
	if got := gres.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", got)
	}
}

func TestGetToken(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)
	res, err := http.Get(ts.URL + "/get-token")
	if err != nil {
		t.Fatalf("GET /get-token error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured token status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}

	issuer := room.NewIssuer(room.IssuerConfig{
		URL:       "wss://rooms.example.test",
		APIKey:    "key",
		APISecret: "secret-secret-secret-secret-secret",
		Room:      "templo",
	})
	ts2, _ := newTestServer(t, testConfig(), issuer)
	res, err = http.Get(ts2.URL + "/get-token")
	if err != nil {
		t.Fatalf("GET /get-token error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var tok room.Token
	decodeBody(t, res, &tok)
	if tok.Token == "" || tok.Channel != "templo" || tok.URL != "wss://rooms.example.test" {
		t.Fatalf("token = %+v", tok)
	}
}

func TestHealthReadyAndSettings(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/perf/latency", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /v1/perf/latency error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("perf reset status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	res, err = http.Get(ts.URL + "/v1/kiosk/settings")
	if err != nil {
		t.Fatalf("GET /v1/kiosk/settings error = %v", err)
	}
	var settings kioskSettingsResponse
	decodeBody(t, res, &settings)
	if settings.RecognitionLanguage != "es-ES" || settings.WebSocketPath != "/v1/kiosk/ws" {
		t.Fatalf("settings = %+v", settings)
	}
	if settings.RoomEnabled {
		t.Fatalf("room enabled without an issuer")
	}
}

func TestKioskPageAndAssets(t *testing.T) {
	dir := t.TempDir()
	ambient := filepath.Join(dir, "ambient.mp3")
	if err := os.WriteFile(ambient, []byte("ID3fake"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	cfg := testConfig()
	cfg.Kiosk.AmbientAsset = ambient
	cfg.Kiosk.SuspenseAsset = filepath.Join(dir, "missing.mp3")
	ts, _ := newTestServer(t, cfg, nil)

	res, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "kiosk.js") {
		t.Fatalf("GET / status = %d, body missing kiosk script", res.StatusCode)
	}
	if !strings.Contains(string(body), "livekit-client") || !strings.Contains(string(body), `id="room-audio"`) {
		t.Fatalf("GET / body missing room client")
	}
	res, err = http.Get(ts.URL + "/kiosk.js")
	if err != nil {
		t.Fatalf("GET /kiosk.js error = %v", err)
	}
	script, _ := io.ReadAll(res.Body)
	res.Body.Close()
	for _, want := range []string{"r.connect(msg.url, msg.token)", "setMicrophoneEnabled(true)", "RoomEvent.TrackSubscribed"} {
		if !strings.Contains(string(script), want) {
			t.Fatalf("kiosk.js missing %q", want)
		}
	}

	cases := map[string]int{
		"/v1/kiosk/assets/ambient":  http.StatusOK,
		"/v1/kiosk/assets/suspense": http.StatusNotFound,
		"/v1/kiosk/assets/other":    http.StatusNotFound,
	}
	for path, want := range cases {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != want {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, want)
		}
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read websocket message: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestKioskWebSocketRunsTurn(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(), nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/kiosk/ws"

	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if res.Header.Get("Set-Cookie") == "" {
		t.Fatalf("websocket upgrade did not set the session cookie")
	}

	send := func(msg map[string]any) {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write websocket message: %v", err)
		}
	}

	send(map[string]any{"type": "control", "action": "connect"})
	start := readUntil(t, conn, func(m map[string]any) bool {
		return m["type"] == "recognition" && m["action"] == "start"
	})
	if start["language"] != "es-ES" {
		t.Fatalf("recognition language = %v, want es-ES", start["language"])
	}

	send(map[string]any{"type": "recognition_event", "event": "started"})
	send(map[string]any{"type": "recognition_event", "event": "result", "text": "Hola Anubis", "final": true})

	user := readUntil(t, conn, func(m map[string]any) bool {
		return m["type"] == "utterance" && m["speaker"] == "user"
	})
	if user["text"] != "Hola Anubis" {
		t.Fatalf("user utterance = %v, want Hola Anubis", user["text"])
	}
	reply := readUntil(t, conn, func(m map[string]any) bool {
		return m["type"] == "clip" && m["action"] == "load_once"
	})
	if reply["content_type"] != "audio/wave" {
		t.Fatalf("reply content_type = %v, want audio/wave", reply["content_type"])
	}

	send(map[string]any{"type": "bogus"})
	readUntil(t, conn, func(m map[string]any) bool {
		return m["type"] == "error_event" && m["code"] == "invalid_client_message"
	})
}
