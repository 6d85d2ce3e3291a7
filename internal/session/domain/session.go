package domain

import (
	"errors"
	"time"

	devicedomain "asset-register/backend/internal/device/domain"
)

// Status is the session lifecycle state. Expired and invalidated are terminal.
type Status string

const (
	StatusActive      Status = "active"
	StatusExpired     Status = "expired"
	StatusInvalidated Status = "invalidated"
)

// ErrInvalidTransition is returned when a terminal session is asked to change state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is a logged-in presence of a user on one device.
type Session struct {
	ID     string
	UserID string
	// RefreshTokenID is the refresh token currently bound to the session.
	RefreshTokenID  string
	Device          devicedomain.Info
	AccessTokenHash string
	Status          Status
	LastActivity    time.Time
	ExpiresAt       time.Time
	InvalidatedAt   *time.Time
	CreatedAt       time.Time
}

// IsActive reports whether the session is in the active state.
func (s *Session) IsActive() bool { return s.Status == StatusActive }

// ExpiredAt reports whether an active session has run past its expiry at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Expire moves an active session to expired.
func (s *Session) Expire() error {
	if s.Status != StatusActive {
		return ErrInvalidTransition
	}
	s.Status = StatusExpired
	return nil
}

// Invalidate moves an active session to invalidated.
func (s *Session) Invalidate(now time.Time) error {
	if s.Status != StatusActive {
		return ErrInvalidTransition
	}
	s.Status = StatusInvalidated
	s.InvalidatedAt = &now
	return nil
}

// Decision is the outcome of a login against the user's current active session.
type Decision int

const (
	// DecisionCreate: no live session; create one.
	DecisionCreate Decision = iota
	// DecisionReuse: live session on the same device; refresh its tokens.
	DecisionReuse
	// DecisionConflict: live session on another device; reject.
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionReuse:
		return "reuse"
	case DecisionConflict:
		return "conflict"
	}
	return "unknown"
}

// Decide applies the single-active-session rule. active is the user's current
// active session or nil; a session past its expiry does not count.
func Decide(active *Session, dev devicedomain.Info, now time.Time) Decision {
	if active == nil || !active.IsActive() || active.ExpiredAt(now) {
		return DecisionCreate
	}
	if active.Device.SameDevice(dev) {
		return DecisionReuse
	}
	return DecisionConflict
}
