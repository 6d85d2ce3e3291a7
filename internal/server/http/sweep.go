package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"asset-register/backend/internal/apperr"
)

type sweepResponse struct {
	Expired        int64 `json:"expired"`
	PurgedSessions int64 `json:"purged_sessions"`
	PurgedTokens   int64 `json:"purged_tokens"`
	Skipped        bool  `json:"skipped"`
	DurationMS     int64 `json:"duration_ms"`
}

// Sweep handles POST /internal/sweep for schedulers that cannot run the
// sweeper binary. The caller must present the sweep token as a Bearer token.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Sweep-Token"))
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.sweepToken)) != 1 {
		h.writeError(w, r, apperr.ErrForbidden)
		return
	}
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		Expired:        res.Expired,
		PurgedSessions: res.PurgedSessions,
		PurgedTokens:   res.PurgedTokens,
		Skipped:        res.Skipped,
		DurationMS:     res.Duration.Milliseconds(),
	})
}
