package httpapi

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

type kioskSettingsResponse struct {
	AutoConnect         bool    `json:"auto_connect"`
	RecognitionLanguage string  `json:"recognition_language"`
	Voice               string  `json:"voice"`
	Speed               int     `json:"speed"`
	AmbientURL          string  `json:"ambient_url"`
	SuspenseURL         string  `json:"suspense_url"`
	AmbientVolume       float64 `json:"ambient_volume"`
	RoomEnabled         bool    `json:"room_enabled"`
	WebSocketPath       string  `json:"ws_path"`
}

func (s *Server) handleKioskSettings(w http.ResponseWriter, _ *http.Request) {
	k := s.cfg.Kiosk
	respondJSON(w, http.StatusOK, kioskSettingsResponse{
		AutoConnect:         k.AutoConnect,
		RecognitionLanguage: k.BrowserLanguage,
		Voice:               k.Voice,
		Speed:               k.Speed,
		AmbientURL:          kioskAssetBase + "/ambient",
		SuspenseURL:         kioskAssetBase + "/suspense",
		AmbientVolume:       k.AmbientVolume,
		RoomEnabled:         k.JoinRoom && s.issuer.Configured(),
		WebSocketPath:       "/v1/kiosk/ws",
	})
}

// handleKioskAsset serves the configured ambient and suspense loops.
func (s *Server) handleKioskAsset(w http.ResponseWriter, r *http.Request) {
	var path string
	switch chi.URLParam(r, "name") {
	case "ambient":
		path = s.cfg.Kiosk.AmbientAsset
	case "suspense":
		path = s.cfg.Kiosk.SuspenseAsset
	}
	if path == "" {
		respondError(w, http.StatusNotFound, "asset_not_found", "unknown kiosk asset")
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "asset_not_found", err.Error())
		return
	}
	http.ServeFile(w, r, path)
}
