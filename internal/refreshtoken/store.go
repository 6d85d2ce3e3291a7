// Package refreshtoken persists refresh tokens and enforces single-use
// rotation with reuse detection.
package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/refreshtoken/domain"
	"asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/security"
)

var (
	// ErrNotFound is returned when no stored token matches.
	ErrNotFound = repository.ErrNotFound
	// ErrRevoked is returned by Lookup for a revoked token.
	ErrRevoked = errors.New("refresh token revoked")
)

// Minted is a freshly signed refresh token handed to Rotate.
type Minted struct {
	Raw       string
	ExpiresAt time.Time
}

// Mint signs the replacement token for old.
type Mint func(old *domain.RefreshToken) (Minted, error)

// Store is the refresh-token lifecycle. Raw tokens never reach the repository.
type Store struct {
	repo repository.Repository
	log  *zap.Logger
	now  func() time.Time
}

// NewStore returns a Store over repo.
func NewStore(repo repository.Repository, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{repo: repo, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create stores a new token for userID.
func (s *Store) Create(ctx context.Context, userID, raw string, dev devicedomain.Info, expiresAt time.Time) (*domain.RefreshToken, error) {
	t := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: security.HashToken(raw),
		IssuedAt:  s.now().UTC(),
		ExpiresAt: expiresAt,
		Device:    dev,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Successor builds the record that replaces old once m is signed. The device
// snapshot carries over.
func (s *Store) Successor(old *domain.RefreshToken, m Minted) *domain.RefreshToken {
	return &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    old.UserID,
		TokenHash: security.HashToken(m.Raw),
		IssuedAt:  s.now().UTC(),
		ExpiresAt: m.ExpiresAt,
		Device:    old.Device,
	}
}

// RevokeFamily answers the reuse of old: every active token of its owner is
// revoked.
func (s *Store) RevokeFamily(ctx context.Context, old *domain.RefreshToken) error {
	n, err := s.repo.RevokeAllForUser(ctx, old.UserID, domain.ReasonReuseDetected, s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke after reuse: %w", err)
	}
	s.log.Warn("refresh token reuse detected",
		zap.String("user_id", old.UserID), zap.String("token_id", old.ID), zap.Int64("revoked", n))
	return nil
}

// Rotate replaces oldRaw with a token produced by mint, for rotations not
// bound to a session. Presenting a revoked or expired token is reuse: the
// family is revoked and apperr.ErrReuseDetected is returned with the old record.
func (s *Store) Rotate(ctx context.Context, oldRaw string, mint Mint) (old, next *domain.RefreshToken, err error) {
	old, next, err = s.repo.Rotate(ctx, security.HashToken(oldRaw), s.now().UTC(), func(o *domain.RefreshToken) (*domain.RefreshToken, error) {
		m, err := mint(o)
		if err != nil {
			return nil, err
		}
		return s.Successor(o, m), nil
	})
	if errors.Is(err, repository.ErrNotUsable) && old != nil {
		if err := s.RevokeFamily(ctx, old); err != nil {
			return old, nil, err
		}
		return old, nil, apperr.ErrReuseDetected
	}
	return old, next, err
}

// Lookup returns the active token for raw, or ErrNotFound, apperr.ErrTokenExpired or ErrRevoked.
func (s *Store) Lookup(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	t, err := s.repo.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		return nil, err
	}
	switch {
	case t == nil:
		return nil, ErrNotFound
	case t.Revoked:
		return t, ErrRevoked
	case t.IsExpired(s.now()):
		return t, apperr.ErrTokenExpired
	}
	return t, nil
}

// Revoke revokes raw. Revoking an unknown or already revoked token is a no-op.
func (s *Store) Revoke(ctx context.Context, raw, reason string) error {
	_, err := s.repo.Revoke(ctx, security.HashToken(raw), reason, s.now().UTC())
	return err
}

// RevokeByID revokes the token with id; idempotent.
func (s *Store) RevokeByID(ctx context.Context, id, reason string) error {
	return s.repo.RevokeByID(ctx, id, reason, s.now().UTC())
}

// RevokeAll revokes every active token of userID.
func (s *Store) RevokeAll(ctx context.Context, userID, reason string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID, reason, s.now().UTC())
}

// ActiveCount returns how many usable tokens userID holds.
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountActive(ctx, userID, s.now().UTC())
}

// Purge deletes one batch of tokens dead since before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	return s.repo.PurgeBefore(ctx, cutoff, batch)
}
