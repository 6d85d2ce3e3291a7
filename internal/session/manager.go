// Package session owns the session lifecycle and enforces the
// single-active-session rule.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/refreshtoken"
	rtdomain "asset-register/backend/internal/refreshtoken/domain"
	rtrepo "asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/security"
	"asset-register/backend/internal/session/domain"
	"asset-register/backend/internal/session/repository"
)

// TokenIssuer signs the access and refresh tokens bound to a session.
type TokenIssuer interface {
	AccessTTL() time.Duration
	IssueAccess(userID, sessionID string, ttl time.Duration) (security.Issued, error)
	IssueRefresh(userID, sessionID, deviceID string) (security.Issued, error)
}

// Options tune the manager.
type Options struct {
	// DefaultTTL applies when the user has no session timeout of their own.
	DefaultTTL time.Duration
	// TouchInterval bounds how often Validate writes last_activity.
	TouchInterval time.Duration
}

// Established is the result of a login or renewal: the session and the raw
// tokens the client must hold.
type Established struct {
	Session *domain.Session
	Access  security.Issued
	Refresh security.Issued
	Reused  bool
}

// Manager coordinates sessions and the refresh tokens bound to them.
type Manager struct {
	repo    repository.Repository
	refresh *refreshtoken.Store
	tokens  TokenIssuer
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// NewManager returns a Manager.
func NewManager(repo repository.Repository, refresh *refreshtoken.Store, tokens TokenIssuer, opts Options, log *zap.Logger) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 8 * time.Hour
	}
	if opts.TouchInterval <= 0 {
		opts.TouchInterval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{repo: repo, refresh: refresh, tokens: tokens, opts: opts, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TTL returns the session lifetime for a user with the given timeout.
func (m *Manager) TTL(userTimeout time.Duration) time.Duration {
	if userTimeout > 0 {
		return userTimeout
	}
	return m.opts.DefaultTTL
}

func (m *Manager) accessTTL(sessionTTL time.Duration) time.Duration {
	if d := m.tokens.AccessTTL(); d > 0 && d < sessionTTL {
		return d
	}
	return sessionTTL
}

// Establish creates a session for userID on dev, or refreshes the tokens of
// the session that device already holds. It returns apperr.ErrSessionConflict
// when another device holds the user's active session.
func (m *Manager) Establish(ctx context.Context, userID string, ttl time.Duration, dev devicedomain.Info) (*Established, error) {
	now := m.now().UTC()
	out := &Established{}
	mint := func(sessionID string) (*repository.Grant, error) {
		access, err := m.tokens.IssueAccess(userID, sessionID, m.accessTTL(ttl))
		if err != nil {
			return nil, fmt.Errorf("issue access token: %w", err)
		}
		refresh, err := m.tokens.IssueRefresh(userID, sessionID, dev.ID)
		if err != nil {
			return nil, fmt.Errorf("issue refresh token: %w", err)
		}
		out.Access, out.Refresh = access, refresh
		return &repository.Grant{
			RefreshToken: &rtdomain.RefreshToken{
				ID:        uuid.NewString(),
				UserID:    userID,
				TokenHash: security.HashToken(refresh.Token),
				IssuedAt:  now,
				ExpiresAt: refresh.ExpiresAt,
				Device:    dev,
			},
			AccessTokenHash: security.HashToken(access.Token),
			ExpiresAt:       now.Add(ttl),
		}, nil
	}
	s, reused, err := m.repo.Acquire(ctx, userID, dev, now, mint)
	if err != nil {
		return nil, err
	}
	out.Session, out.Reused = s, reused
	m.log.Info("session established",
		zap.String("user_id", userID), zap.String("session_id", s.ID), zap.Bool("reused", reused))
	return out, nil
}

// live loads sessionID and checks it is active and unexpired. An active row
// found past its expiry is moved to expired on the spot.
func (m *Manager) live(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	if sessionID == "" {
		return nil, apperr.ErrSessionNotFound
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.ErrSessionNotFound
	}
	switch s.Status {
	case domain.StatusInvalidated:
		return nil, apperr.ErrSessionInvalidated
	case domain.StatusExpired:
		return nil, apperr.ErrSessionExpired
	}
	if s.ExpiredAt(now) {
		if _, err := m.repo.MarkExpired(ctx, s.ID); err != nil {
			m.log.Warn("mark session expired", zap.String("session_id", s.ID), zap.Error(err))
		}
		return nil, apperr.ErrSessionExpired
	}
	return s, nil
}

// Validate checks that sessionID is live and, when accessToken is set, that it
// is the access token currently bound to the session. Activity is recorded at
// most once per TouchInterval.
func (m *Manager) Validate(ctx context.Context, sessionID, accessToken string) (*domain.Session, error) {
	now := m.now().UTC()
	s, err := m.live(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	if accessToken != "" && !security.TokenHashEqual(accessToken, s.AccessTokenHash) {
		return nil, apperr.ErrSessionInvalidated
	}
	if now.Sub(s.LastActivity) >= m.opts.TouchInterval {
		if err := m.repo.Touch(ctx, s.ID, now); err != nil {
			m.log.Warn("touch session", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			s.LastActivity = now
		}
	}
	return s, nil
}

// Renew rotates the refresh token presented for the session named in claims,
// issues a new access token and pushes the session expiry out by ttl. The
// rotation and the session rebind commit together. Reuse of a rotated token
// revokes the owner's token family and invalidates every session they hold.
func (m *Manager) Renew(ctx context.Context, claims *security.Claims, refreshRaw string, ttl time.Duration) (*Established, error) {
	now := m.now().UTC()
	s, err := m.live(ctx, claims.SessionID, now)
	if err != nil {
		return nil, err
	}
	if s.UserID != claims.UserID() {
		return nil, apperr.ErrSessionInvalidated
	}
	out := &Established{}
	renewed, old, err := m.repo.Renew(ctx, s.ID, security.HashToken(refreshRaw), now,
		func(cur *domain.Session, old *rtdomain.RefreshToken) (*repository.Grant, error) {
			refresh, err := m.tokens.IssueRefresh(old.UserID, cur.ID, old.Device.ID)
			if err != nil {
				return nil, fmt.Errorf("issue refresh token: %w", err)
			}
			access, err := m.tokens.IssueAccess(old.UserID, cur.ID, m.accessTTL(ttl))
			if err != nil {
				return nil, fmt.Errorf("issue access token: %w", err)
			}
			out.Access, out.Refresh = access, refresh
			return &repository.Grant{
				RefreshToken:    m.refresh.Successor(old, refreshtoken.Minted{Raw: refresh.Token, ExpiresAt: refresh.ExpiresAt}),
				AccessTokenHash: security.HashToken(access.Token),
				ExpiresAt:       now.Add(ttl),
			}, nil
		})
	switch {
	case errors.Is(err, rtrepo.ErrNotUsable) && old != nil:
		if rerr := m.refresh.RevokeFamily(ctx, old); rerr != nil {
			m.log.Error("revoke token family after reuse", zap.String("user_id", old.UserID), zap.Error(rerr))
		}
		if _, ierr := m.repo.InvalidateForUser(ctx, old.UserID, "", now); ierr != nil {
			m.log.Error("invalidate sessions after reuse", zap.String("user_id", old.UserID), zap.Error(ierr))
		}
		return nil, apperr.ErrReuseDetected
	case errors.Is(err, rtrepo.ErrNotFound), errors.Is(err, repository.ErrNotBound):
		return nil, apperr.ErrSessionInvalidated
	case err != nil:
		return nil, err
	}
	out.Session = renewed
	return out, nil
}

// Extend pushes the expiry of a live session to now+ttl.
func (m *Manager) Extend(ctx context.Context, sessionID string, ttl time.Duration) (*domain.Session, error) {
	now := m.now().UTC()
	s, err := m.live(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = now.Add(ttl)
	ok, err := m.repo.Extend(ctx, s.ID, s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrSessionInvalidated
	}
	return s, nil
}

// Invalidate ends sessionID and revokes its refresh token. Ending an already
// terminal session is not an error.
func (m *Manager) Invalidate(ctx context.Context, sessionID, reason string) error {
	rtID, ok, err := m.repo.Invalidate(ctx, sessionID, m.now().UTC())
	if err != nil {
		return err
	}
	if ok && rtID != "" {
		return m.refresh.RevokeByID(ctx, rtID, reason)
	}
	return nil
}

// EndByRefresh revokes refreshRaw and ends the session it is bound to. A token
// that is unknown, already revoked or not the one bound to sessionID ends
// nothing and yields apperr.ErrSessionInvalidated.
func (m *Manager) EndByRefresh(ctx context.Context, sessionID, refreshRaw, reason string) (*domain.Session, error) {
	t, err := m.refresh.Lookup(ctx, refreshRaw)
	switch {
	case errors.Is(err, refreshtoken.ErrNotFound), errors.Is(err, refreshtoken.ErrRevoked):
		return nil, apperr.ErrSessionInvalidated
	case err != nil:
		return nil, err
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.UserID != t.UserID || s.RefreshTokenID != t.ID {
		return nil, apperr.ErrSessionInvalidated
	}
	if err := m.refresh.Revoke(ctx, refreshRaw, reason); err != nil {
		return nil, err
	}
	if err := m.Invalidate(ctx, s.ID, reason); err != nil {
		return nil, err
	}
	return s, nil
}

// InvalidateAll ends every session of userID and revokes all of their refresh tokens.
func (m *Manager) InvalidateAll(ctx context.Context, userID, reason string) (int, error) {
	ids, err := m.repo.InvalidateForUser(ctx, userID, "", m.now().UTC())
	if err != nil {
		return 0, err
	}
	if _, err := m.refresh.RevokeAll(ctx, userID, reason); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}

// RevokeOthers ends every active session of userID other than keepID.
func (m *Manager) RevokeOthers(ctx context.Context, userID, keepID string) (int, error) {
	ids, err := m.repo.InvalidateForUser(ctx, userID, keepID, m.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := m.refresh.RevokeByID(ctx, id, rtdomain.ReasonSessionRevoked); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}

// ActiveSessions lists the live sessions of userID.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	all, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := all[:0]
	for _, s := range all {
		if !s.ExpiredAt(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
