package domain

import (
	"time"

	devicedomain "asset-register/backend/internal/device/domain"
)

// Revoke reasons recorded on refresh tokens.
const (
	ReasonRotated        = "rotated"
	ReasonLogout         = "logout"
	ReasonReuseDetected  = "reuse_detected"
	ReasonSessionRevoked = "session_revoked"
	ReasonPasswordChange = "password_changed"
)

// RefreshToken is the persisted form of a refresh token. Only the SHA-256 of
// the raw token is stored.
type RefreshToken struct {
	ID           string
	UserID       string
	TokenHash    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason string
	ReplacedBy   *string
	Device       devicedomain.Info
}

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token may be rotated or used at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}
