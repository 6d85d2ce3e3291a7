package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-register/backend/internal/apperr"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/refreshtoken"
	rtdomain "asset-register/backend/internal/refreshtoken/domain"
	rtrepo "asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/security"
	"asset-register/backend/internal/session/domain"
	"asset-register/backend/internal/session/repository"
)

type fixture struct {
	mgr    *Manager
	repo   *repository.MemoryRepository
	store  *refreshtoken.Store
	tokens *security.TokenService
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Now().UTC(), tokens: security.NewTestTokenService()}
	rts := rtrepo.NewMemoryRepository()
	f.repo = repository.NewMemoryRepository(rts)
	f.store = refreshtoken.NewStore(rts, nil).WithClock(func() time.Time { return f.now })
	f.mgr = NewManager(f.repo, f.store, f.tokens, Options{DefaultTTL: 8 * time.Hour}, nil).
		WithClock(func() time.Time { return f.now })
	return f
}

var (
	laptop = devicedomain.Info{ID: "D1", Name: "laptop"}
	phone  = devicedomain.Info{ID: "D2", Name: "phone"}
)

func TestManager_EstablishCreateReuseConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Establish(ctx, "u1", 8*time.Hour, laptop)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.NotEmpty(t, first.Access.Token)
	assert.NotEmpty(t, first.Refresh.Token)

	claims, err := f.tokens.Verify(first.Access.Token, security.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, claims.SessionID)

	again, err := f.mgr.Establish(ctx, "u1", 8*time.Hour, laptop)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, first.Session.ID, again.Session.ID)

	// The refresh token from the first login was replaced.
	_, err = f.store.Lookup(ctx, first.Refresh.Token)
	assert.ErrorIs(t, err, refreshtoken.ErrRevoked)

	_, err = f.mgr.Establish(ctx, "u1", 8*time.Hour, phone)
	assert.ErrorIs(t, err, apperr.ErrSessionConflict)
}

func TestManager_Validate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)

	s, err := f.mgr.Validate(ctx, est.Session.ID, est.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)

	other, _ := f.tokens.IssueAccess("u1", est.Session.ID, 0)
	_, err = f.mgr.Validate(ctx, est.Session.ID, other.Token)
	assert.ErrorIs(t, err, apperr.ErrSessionInvalidated, "access token not bound to session")

	_, err = f.mgr.Validate(ctx, "missing", "")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	f.now = f.now.Add(time.Hour)
	_, err = f.mgr.Validate(ctx, est.Session.ID, est.Access.Token)
	assert.ErrorIs(t, err, apperr.ErrSessionExpired)
	got, _ := f.repo.GetByID(ctx, est.Session.ID)
	assert.Equal(t, domain.StatusExpired, got.Status)

	// Once expired, the user may log in from any device.
	_, err = f.mgr.Establish(ctx, "u1", time.Hour, phone)
	assert.NoError(t, err)
}

func TestManager_ValidateTouchesActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	_, err = f.mgr.Validate(ctx, est.Session.ID, "")
	require.NoError(t, err)
	got, _ := f.repo.GetByID(ctx, est.Session.ID)
	assert.Equal(t, f.now, got.LastActivity)
}

func TestManager_RenewRotatesAndExtends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)
	claims, err := f.tokens.Verify(est.Refresh.Token, security.TokenRefresh)
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	renewed, err := f.mgr.Renew(ctx, claims, est.Refresh.Token, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, est.Refresh.Token, renewed.Refresh.Token)
	assert.Equal(t, f.now.Add(time.Hour), renewed.Session.ExpiresAt)

	// Old access token no longer matches; new one does.
	_, err = f.mgr.Validate(ctx, est.Session.ID, est.Access.Token)
	assert.ErrorIs(t, err, apperr.ErrSessionInvalidated)
	_, err = f.mgr.Validate(ctx, est.Session.ID, renewed.Access.Token)
	assert.NoError(t, err)
}

func TestManager_RenewReuseInvalidatesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)
	claims, _ := f.tokens.Verify(est.Refresh.Token, security.TokenRefresh)

	renewed, err := f.mgr.Renew(ctx, claims, est.Refresh.Token, time.Hour)
	require.NoError(t, err)

	_, err = f.mgr.Renew(ctx, claims, est.Refresh.Token, time.Hour)
	assert.ErrorIs(t, err, apperr.ErrReuseDetected)

	got, _ := f.repo.GetByID(ctx, est.Session.ID)
	assert.Equal(t, domain.StatusInvalidated, got.Status)
	_, err = f.store.Lookup(ctx, renewed.Refresh.Token)
	assert.ErrorIs(t, err, refreshtoken.ErrRevoked, "the legitimate successor is revoked too")
}

// dyingRenew fails the next renewal after its grant is minted, the way a
// transaction that loses its connection before commit does.
type dyingRenew struct {
	*repository.MemoryRepository
	armed bool
}

func (r *dyingRenew) Renew(ctx context.Context, id, hash string, now time.Time, mint repository.RenewFunc) (*domain.Session, *rtdomain.RefreshToken, error) {
	if !r.armed {
		return r.MemoryRepository.Renew(ctx, id, hash, now, mint)
	}
	r.armed = false
	return r.MemoryRepository.Renew(ctx, id, hash, now, func(s *domain.Session, old *rtdomain.RefreshToken) (*repository.Grant, error) {
		if _, err := mint(s, old); err != nil {
			return nil, err
		}
		return nil, errors.New("connection reset")
	})
}

func TestManager_RenewFailureLeavesTokenUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &dyingRenew{MemoryRepository: f.repo}
	f.mgr = NewManager(flaky, f.store, f.tokens, Options{DefaultTTL: 8 * time.Hour}, nil).
		WithClock(func() time.Time { return f.now })
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)
	claims, _ := f.tokens.Verify(est.Refresh.Token, security.TokenRefresh)

	flaky.armed = true
	_, err = f.mgr.Renew(ctx, claims, est.Refresh.Token, time.Hour)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrReuseDetected)

	// The client retries with the only token it holds.
	renewed, err := f.mgr.Renew(ctx, claims, est.Refresh.Token, time.Hour)
	require.NoError(t, err)
	got, _ := f.repo.GetByID(ctx, est.Session.ID)
	assert.Equal(t, domain.StatusActive, got.Status)
	count, _ := f.store.ActiveCount(ctx, "u1")
	assert.Equal(t, 1, count)
	_, err = f.store.Lookup(ctx, renewed.Refresh.Token)
	assert.NoError(t, err)
}

func TestManager_RenewRejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)
	forged, _ := f.tokens.IssueRefresh("u2", est.Session.ID, "D1")
	claims, _ := f.tokens.Verify(forged.Token, security.TokenRefresh)

	_, err = f.mgr.Renew(ctx, claims, forged.Token, time.Hour)
	assert.ErrorIs(t, err, apperr.ErrSessionInvalidated)
}

func TestManager_InvalidateRevokesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Invalidate(ctx, est.Session.ID, "logout"))
	require.NoError(t, f.mgr.Invalidate(ctx, est.Session.ID, "logout"), "idempotent")

	_, err = f.mgr.Validate(ctx, est.Session.ID, est.Access.Token)
	assert.ErrorIs(t, err, apperr.ErrSessionInvalidated)
	_, err = f.store.Lookup(ctx, est.Refresh.Token)
	assert.ErrorIs(t, err, refreshtoken.ErrRevoked)

	sessions, err := f.mgr.ActiveSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestManager_EndByRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)

	_, err = f.mgr.EndByRefresh(ctx, "other-session", est.Refresh.Token, "logout")
	assert.ErrorIs(t, err, apperr.ErrSessionInvalidated, "token must be bound to the named session")

	s, err := f.mgr.EndByRefresh(ctx, est.Session.ID, est.Refresh.Token, "logout")
	require.NoError(t, err)
	assert.Equal(t, est.Session.ID, s.ID)
	_, err = f.store.Lookup(ctx, est.Refresh.Token)
	assert.ErrorIs(t, err, refreshtoken.ErrRevoked)

	_, err = f.mgr.EndByRefresh(ctx, est.Session.ID, est.Refresh.Token, "logout")
	assert.ErrorIs(t, err, apperr.ErrSessionInvalidated)

	// The user is free to sign in from another device.
	_, err = f.mgr.Establish(ctx, "u1", time.Hour, phone)
	assert.NoError(t, err)
}

func TestManager_RevokeOthersKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)

	n, err := f.mgr.RevokeOthers(ctx, "u1", est.Session.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.mgr.Validate(ctx, est.Session.ID, "")
	assert.NoError(t, err)

	n, err = f.mgr.InvalidateAll(ctx, "u1", "password_change")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, _ := f.store.ActiveCount(ctx, "u1")
	assert.Zero(t, count)
}

func TestManager_Extend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	est, err := f.mgr.Establish(ctx, "u1", time.Hour, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(50 * time.Minute)
	s, err := f.mgr.Extend(ctx, est.Session.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Hour), s.ExpiresAt)

	assert.Equal(t, 8*time.Hour, f.mgr.TTL(0))
	assert.Equal(t, 30*time.Minute, f.mgr.TTL(30*time.Minute))
}
