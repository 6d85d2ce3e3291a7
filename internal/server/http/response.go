package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error       string     `json:"error"`
	Message     string     `json:"message"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err to its status and stable code. Internal errors are
// logged and never echoed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	resp := errorResponse{Error: apperr.Code(err), Message: apperr.Message(err)}

	var locked *apperr.LockedError
	if errors.As(err, &locked) {
		until := locked.Until.UTC()
		resp.LockedUntil = &until
		secs := int(locked.RetryAfter(h.now()) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.ErrInvalidInput
	}
	return nil
}
