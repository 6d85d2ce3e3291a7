package repository

import (
	"context"
	"errors"
	"time"

	devicedomain "asset-register/backend/internal/device/domain"
	rtdomain "asset-register/backend/internal/refreshtoken/domain"
	"asset-register/backend/internal/session/domain"
)

var (
	// ErrUnknownUser is returned by Acquire when the user row does not exist.
	ErrUnknownUser = errors.New("session: unknown user")
	// ErrNotBound is returned by Renew when the session is no longer live or is
	// bound to a different refresh token than the one presented.
	ErrNotBound = errors.New("session: not live or not bound to token")
)

// Grant is the token material minted for the session a login lands on.
type Grant struct {
	RefreshToken    *rtdomain.RefreshToken
	AccessTokenHash string
	ExpiresAt       time.Time
}

// MintFunc builds the Grant for sessionID. It runs inside the acquisition
// transaction, after the create-or-reuse decision is made.
type MintFunc func(sessionID string) (*Grant, error)

// RenewFunc builds the Grant that replaces old on session s. It runs inside
// the renewal transaction.
type RenewFunc func(s *domain.Session, old *rtdomain.RefreshToken) (*Grant, error)

// Repository defines persistence for sessions.
type Repository interface {
	// Acquire applies the single-active-session rule for userID on dev and
	// binds the minted grant to the resulting session. It returns
	// apperr.ErrSessionConflict when another device holds the active session.
	Acquire(ctx context.Context, userID string, dev devicedomain.Info, now time.Time, mint MintFunc) (s *domain.Session, reused bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Renew locks the live session id, rotates its bound refresh token (the one
	// hashing to tokenHash) to the token minted by mint and points the session
	// at the new pair, all in one transaction. A revoked or expired token yields
	// rtrepo.ErrNotUsable with its record and nothing written.
	Renew(ctx context.Context, id, tokenHash string, now time.Time, mint RenewFunc) (s *domain.Session, old *rtdomain.RefreshToken, err error)
	Touch(ctx context.Context, id string, now time.Time) error
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	// Invalidate ends an active session and returns its bound refresh token id,
	// or "" with ok false when it was not active.
	Invalidate(ctx context.Context, id string, now time.Time) (refreshTokenID string, ok bool, err error)
	// InvalidateForUser ends every active session of userID except exceptID and
	// returns the refresh token ids they were bound to.
	InvalidateForUser(ctx context.Context, userID, exceptID string, now time.Time) ([]string, error)
	// ExpireBatch moves up to limit active sessions past their expiry to expired.
	ExpireBatch(ctx context.Context, now time.Time, limit int) (int64, error)
	// PurgeBefore deletes up to limit terminal sessions that ended before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
