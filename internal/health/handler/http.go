package handler

import (
	"encoding/json"
	"net/http"
)

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness reports that the process is up.
func (s *Server) Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// Readiness reports 200 when every dependency answers and 503 otherwise.
func (s *Server) Readiness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failures := s.Check(r.Context())
		resp := statusResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
		for _, name := range s.Names() {
			resp.Checks[name] = "ok"
			if _, failed := failures[name]; failed {
				resp.Checks[name] = "unavailable"
			}
		}
		code := http.StatusOK
		if len(failures) > 0 || s.isDraining() {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
