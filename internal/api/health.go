package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHealth(w, http.StatusOK, "ok")
}

// handleReadyz reports readiness by pinging the store.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		s.writeHealth(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	s.writeHealth(w, http.StatusOK, "ok")
}

func (s *Server) writeHealth(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: status}); err != nil {
		s.logger.Error("encode health response", "error", err)
	}
}
