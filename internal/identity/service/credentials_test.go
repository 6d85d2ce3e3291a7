package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/audit"
	"asset-register/backend/internal/security"
	userdomain "asset-register/backend/internal/user/domain"
)

func TestCredentialVerifier_Success(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", alicePassword)

	u, err := f.creds.Authenticate(context.Background(), "alice", alicePassword)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}

func TestCredentialVerifier_UnknownUser(t *testing.T) {
	f := newFixture(t)
	u, err := f.creds.Authenticate(context.Background(), "nobody", "whatever-password")
	assert.Nil(t, u)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestCredentialVerifier_LockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", alicePassword)

	for i := 1; i <= 4; i++ {
		_, err := f.creds.Authenticate(ctx, "alice", "wrong-password")
		require.ErrorIs(t, err, apperr.ErrInvalidCredentials, "attempt %d", i)
	}
	_, err := f.creds.Authenticate(ctx, "alice", "wrong-password")
	var locked *apperr.LockedError
	require.True(t, errors.As(err, &locked), "fifth failure locks, got %v", err)
	assert.Equal(t, f.now.Add(15*time.Minute), locked.Until)
	assert.Equal(t, 1, f.audited(t, audit.ActionAccountLocked))

	// The right password does not help while locked.
	_, err = f.creds.Authenticate(ctx, "alice", alicePassword)
	assert.ErrorIs(t, err, apperr.ErrAccountLocked)

	// After the window the next attempt is judged normally and the counter restarts.
	f.now = f.now.Add(16 * time.Minute)
	_, err = f.creds.Authenticate(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	stored, _ := f.users.GetByID(ctx, "u1")
	assert.Equal(t, 1, stored.FailedAttempts)

	_, err = f.creds.Authenticate(ctx, "alice", alicePassword)
	require.NoError(t, err)
	stored, _ = f.users.GetByID(ctx, "u1")
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestCredentialVerifier_InactiveOnlyAfterCorrectPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash, err := f.hasher.Hash(alicePassword)
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, &userdomain.User{
		ID: "u2", Username: "bob", PasswordHash: hash, Status: userdomain.UserStatusDisabled,
	}))

	_, err = f.creds.Authenticate(ctx, "bob", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = f.creds.Authenticate(ctx, "bob", alicePassword)
	assert.ErrorIs(t, err, apperr.ErrAccountInactive)
}

func TestCredentialVerifier_RehashesWeakerHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	strong := security.NewHasher(security.Argon2Params{Memory: 8 * 1024, Time: 2, Parallelism: 1})
	creds, err := NewCredentialVerifier(f.users, strong, LockoutPolicy{}, nil, nil)
	require.NoError(t, err)

	u := f.addUser(t, "u1", "alice", alicePassword)
	_, err = creds.Authenticate(ctx, "alice", alicePassword)
	require.NoError(t, err)

	stored, _ := f.users.GetByID(ctx, "u1")
	assert.NotEqual(t, u.PasswordHash, stored.PasswordHash)
	assert.False(t, strong.NeedsRehash(stored.PasswordHash))
	assert.True(t, strong.Verify(alicePassword, stored.PasswordHash))
}
