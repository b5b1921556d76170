package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/assistant"
	"github.com/ent0n29/anubis/internal/config"
	"github.com/ent0n29/anubis/internal/observability"
	"github.com/ent0n29/anubis/internal/room"
	"github.com/ent0n29/anubis/internal/session"
	"github.com/ent0n29/anubis/internal/tts"
)

// Assistant answers kiosk turns.
type Assistant interface {
	Ask(ctx context.Context, sessionID string, p assistant.Prompt) (tts.Audio, error)
	Reset(ctx context.Context, sessionID string) (bool, error)
	Goodbye(ctx context.Context, voice string) (tts.Audio, error)
	Voices(ctx context.Context) ([]tts.Voice, error)
	Ready(ctx context.Context) error
	Providers() (llmName, ttsName string)
}

// Deps are the collaborators of the HTTP server. Issuer, Metrics and Stages are optional.
type Deps struct {
	Sessions  *session.Manager
	Assistant Assistant
	Issuer    *room.Issuer
	Metrics   *observability.Metrics
	Stages    *observability.StageWindow
	Logger    *zap.Logger
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	assistant Assistant
	issuer    *room.Issuer
	metrics   *observability.Metrics
	stages    *observability.StageWindow
	log       *zap.Logger
	upgrader  websocket.Upgrader
	static    http.Handler
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "anubis_sid"
	}
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		assistant: deps.Assistant,
		issuer:    deps.Issuer,
		metrics:   deps.Metrics,
		stages:    deps.Stages,
		log:       logger,
		static:    newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				// Only the kiosk page served by this process may drive a bridged session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)
		r.Post("/ask-local-llm", s.handleAsk)
		r.Post("/reset-conversation", s.handleReset)
		r.Get("/v1/kiosk/ws", s.handleKioskWS)
	})
	r.Get("/api/voices", s.handleVoices)
	r.Get("/api/goodbye-speech", s.handleGoodbyeSpeech)
	r.Get("/get-token", s.handleToken)
	r.Get("/v1/kiosk/settings", s.handleKioskSettings)
	r.Get("/v1/kiosk/assets/{name}", s.handleKioskAsset)

	r.Handle("/*", s.static)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	llmName, ttsName := s.assistant.Providers()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"llm_provider":    llmName,
		"tts_provider":    ttsName,
		"reset_mode":      s.cfg.ResetMode,
		"room_configured": s.issuer.Configured(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.assistant.Ready(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type sessionKey struct{}

// withSession resolves the session cookie, creating a session on first contact.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(s.cfg.SessionCookieName); err == nil {
			id = c.Value
		}
		sess, created := s.sessions.Resolve(id, r.UserAgent())
		if created {
			s.setSessionCookie(w, sess.ID)
			if s.metrics != nil {
				s.metrics.SessionEvents.WithLabelValues("created").Inc()
				s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondAudio(w http.ResponseWriter, a tts.Audio) {
	ct := a.ContentType
	if ct == "" {
		ct = tts.ContentTypeMP3
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}
