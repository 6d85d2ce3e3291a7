// Package handler exposes the dev code store over HTTP. Only mounted when
// codes are returned to the client outside production.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"asset-register/backend/internal/devotp"
)

const devOTPNote = "DEV MODE ONLY"

// Routes mounts GET /{challengeID} on r.
func Routes(r chi.Router, store *devotp.MemoryStore) {
	r.Get("/{challengeID}", func(w http.ResponseWriter, req *http.Request) {
		code, ok := store.Get(req.Context(), chi.URLParam(req, "challengeID"))
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_found", "message": "OTP not found or expired"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"otp": code, "note": devOTPNote})
	})
}
