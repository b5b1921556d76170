package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/tts"
)

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.assistant.Voices(r.Context())
	if err != nil {
		s.log.Error("list voices", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "voices_failed", "Error al obtener las voces.")
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	respondJSON(w, http.StatusOK, voices)
}

func (s *Server) handleGoodbyeSpeech(w http.ResponseWriter, r *http.Request) {
	voice := strings.TrimSpace(r.URL.Query().Get("voice"))
	audio, err := s.assistant.Goodbye(r.Context(), voice)
	if err != nil {
		s.log.Error("goodbye speech", zap.String("voice", voice), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "tts_failed", "Error al sintetizar el discurso de despedida: "+err.Error())
		return
	}
	respondAudio(w, audio)
}
