package domain

import (
	"errors"
	"time"
)

// User is an account that can authenticate against the asset register.
type User struct {
	ID             string
	Username       string
	PasswordHash   string
	Phone          string // optional; OTP delivery target
	Status         UserStatus
	FailedAttempts int
	LockedUntil    *time.Time
	MFAEnabled     bool
	// SessionTimeout overrides the default session lifetime when non-zero.
	SessionTimeout time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// IsActive reports whether the account may log in.
func (u *User) IsActive() bool { return u.Status == UserStatusActive }
