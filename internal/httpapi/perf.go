package httpapi

import "net/http"

// handlePerfLatency reports the rolling stage latencies of recent turns.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

// handlePerfReset clears the window so a replay measures only its own turns.
func (s *Server) handlePerfReset(w http.ResponseWriter, _ *http.Request) {
	s.stages.Reset()
	w.WriteHeader(http.StatusNoContent)
}
