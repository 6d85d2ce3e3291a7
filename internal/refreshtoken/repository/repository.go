package repository

import (
	"context"
	"errors"
	"time"

	"asset-register/backend/internal/refreshtoken/domain"
)

var (
	// ErrNotFound is returned when no token has the given hash.
	ErrNotFound = errors.New("refresh token not found")
	// ErrNotUsable is returned by Rotate when the presented token is revoked or expired.
	ErrNotUsable = errors.New("refresh token revoked or expired")
)

// BuildNext mints the replacement for old inside the rotation transaction.
type BuildNext func(old *domain.RefreshToken) (*domain.RefreshToken, error)

// Repository persists refresh tokens.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetByHash returns the token or nil if not found.
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*domain.RefreshToken, error)
	// Rotate locks the row for oldHash. A usable token is revoked with reason
	// rotated, linked to the token built by next, and that token inserted; all
	// in one transaction. The old record is returned in every case it exists,
	// together with ErrNotUsable when it was already dead.
	Rotate(ctx context.Context, oldHash string, now time.Time, next BuildNext) (old, created *domain.RefreshToken, err error)
	// Revoke marks one token revoked; false if it was not active.
	Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error)
	RevokeByID(ctx context.Context, id, reason string, now time.Time) error
	// RevokeAllForUser revokes every active token for userID and returns how many.
	RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error)
	// CountActive returns how many non-revoked, unexpired tokens userID holds.
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)
	// PurgeBefore deletes up to limit tokens that expired or were revoked before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
