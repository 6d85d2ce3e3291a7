// Package apperr holds the error taxonomy shared by the trust layer. Components
// return these sentinels (wrapped with context); the transport boundary maps them
// to responses exactly once via HTTPStatus and Code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Authentication errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
)

// Token errors.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrReuseDetected    = errors.New("refresh token reuse detected; all tokens revoked")
)

// Session errors.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionConflict    = errors.New("active session exists on another device")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// OTP errors.
var (
	ErrInvalidCode    = errors.New("invalid one-time code")
	ErrDeviceNotFound = errors.New("otp device not found")
	ErrDeviceInactive = errors.New("otp device inactive")
)

// ErrAuditPersist is logged by the audit ledger and never returned to request callers.
var ErrAuditPersist = errors.New("audit record persist failed")

// Input and challenge errors used by the boundary.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrChallengeNotFound = errors.New("mfa challenge not found or expired")
	ErrWeakPassword      = errors.New("password does not meet policy")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
)

// LockedError reports an account lock and when it lifts.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrAccountLocked) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter returns the remaining lock duration relative to now, rounded up to whole seconds.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + time.Second
}

type mapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var mappings = []mapping{
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{ErrAccountLocked, http.StatusLocked, "account_locked"},
	{ErrAccountInactive, http.StatusForbidden, "account_inactive"},
	{ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{ErrInvalidSignature, http.StatusUnauthorized, "invalid_token"},
	{ErrWrongTokenType, http.StatusUnauthorized, "wrong_token_type"},
	{ErrReuseDetected, http.StatusUnauthorized, "reuse_detected"},
	{ErrSessionNotFound, http.StatusUnauthorized, "session_invalid"},
	{ErrSessionConflict, http.StatusConflict, "session_conflict"},
	{ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
	{ErrSessionInvalidated, http.StatusUnauthorized, "session_invalid"},
	{ErrInvalidCode, http.StatusUnauthorized, "invalid_code"},
	{ErrDeviceNotFound, http.StatusNotFound, "device_not_found"},
	{ErrDeviceInactive, http.StatusForbidden, "device_inactive"},
	{ErrChallengeNotFound, http.StatusUnauthorized, "challenge_expired"},
	{ErrWeakPassword, http.StatusBadRequest, "weak_password"},
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
}

// HTTPStatus returns the HTTP status for err; unknown errors map to 500.
func HTTPStatus(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return "internal_error"
}

// Message returns a client-safe message. Internal errors are never echoed.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrSessionConflict):
		return "You are already logged in on another device."
	case errors.Is(err, ErrAccountLocked):
		return "Account temporarily locked after too many failed attempts."
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidInput):
		return err.Error()
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.target.Error()
		}
	}
	return "an internal error occurred"
}
