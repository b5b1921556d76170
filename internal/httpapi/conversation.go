package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/assistant"
	"github.com/ent0n29/anubis/internal/room"
)

type askRequest struct {
	Prompt string  `json:"prompt"`
	Voice  string  `json:"voice"`
	Speed  float64 `json:"speed"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "Solicitud no válida: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "missing_prompt", "No se recibió ningún prompt.")
		return
	}

	sess := sessionFrom(r.Context())
	audio, err := s.assistant.Ask(r.Context(), sess.ID, assistant.Prompt{
		Text:  req.Prompt,
		Voice: req.Voice,
		Speed: int(math.Round(req.Speed)),
	})
	if err != nil {
		if errors.Is(err, assistant.ErrEmptyPrompt) {
			respondError(w, http.StatusBadRequest, "missing_prompt", "No se recibió ningún prompt.")
			return
		}
		s.log.Error("ask failed", zap.String("session_id", sess.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "turn_failed", "Error al procesar la solicitud: "+err.Error())
		return
	}
	respondAudio(w, audio)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	ended, err := s.assistant.Reset(r.Context(), sess.ID)
	if err != nil {
		s.log.Error("reset failed", zap.String("session_id", sess.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "reset_failed", "Error al reiniciar la conversación: "+err.Error())
		return
	}
	if ended {
		s.expireSessionCookie(w)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		}
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Conversación reiniciada."})
}

func (s *Server) handleToken(w http.ResponseWriter, _ *http.Request) {
	if !s.issuer.Configured() {
		respondError(w, http.StatusServiceUnavailable, "room_not_configured", room.ErrNotConfigured.Error())
		return
	}
	tok, err := s.issuer.Issue(kioskIdentity())
	if err != nil {
		s.log.Error("issue room token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "token_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tok)
}
