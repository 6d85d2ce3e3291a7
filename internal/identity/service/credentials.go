package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/audit"
	"asset-register/backend/internal/security"
	userdomain "asset-register/backend/internal/user/domain"
	userrepo "asset-register/backend/internal/user/repository"
)

// LockoutPolicy bounds consecutive password failures.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// CredentialVerifier checks username/password pairs and owns the lockout
// counter. Unknown usernames cost the same as a wrong password.
type CredentialVerifier struct {
	users     userrepo.Repository
	hasher    *security.Hasher
	policy    LockoutPolicy
	ledger    *audit.Ledger
	dummyHash string
	log       *zap.Logger
	now       func() time.Time
}

// NewCredentialVerifier returns a verifier. ledger may be nil.
func NewCredentialVerifier(users userrepo.Repository, hasher *security.Hasher, policy LockoutPolicy, ledger *audit.Ledger, log *zap.Logger) (*CredentialVerifier, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.Duration <= 0 {
		policy.Duration = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	dummy, err := hasher.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("credentials: dummy hash: %w", err)
	}
	return &CredentialVerifier{users: users, hasher: hasher, policy: policy, ledger: ledger,
		dummyHash: dummy, log: log, now: time.Now}, nil
}

// WithClock replaces the time source.
func (v *CredentialVerifier) WithClock(now func() time.Time) *CredentialVerifier {
	v.now = now
	return v
}

// Authenticate returns the user when password matches. Errors:
// apperr.ErrInvalidCredentials, *apperr.LockedError (matches
// apperr.ErrAccountLocked) and apperr.ErrAccountInactive. The inactive error is
// only reported after a correct password. When the username exists the user is
// returned alongside the error so callers can attribute the failure.
func (v *CredentialVerifier) Authenticate(ctx context.Context, username, password string) (*userdomain.User, error) {
	now := v.now().UTC()
	u, err := v.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		v.hasher.Verify(password, v.dummyHash)
		return nil, apperr.ErrInvalidCredentials
	}
	if u.IsLocked(now) {
		v.hasher.Verify(password, v.dummyHash)
		return u, &apperr.LockedError{Until: *u.LockedUntil}
	}
	if !v.hasher.Verify(password, u.PasswordHash) {
		return u, v.recordFailure(ctx, u, now)
	}
	if !u.IsActive() {
		return u, apperr.ErrAccountInactive
	}
	if u.FailedAttempts > 0 || u.LockedUntil != nil {
		if err := v.users.ResetFailedAttempts(ctx, u.ID, now); err != nil {
			return nil, fmt.Errorf("reset failed attempts: %w", err)
		}
		u.FailedAttempts, u.LockedUntil = 0, nil
	}
	if v.hasher.NeedsRehash(u.PasswordHash) {
		v.rehash(ctx, u, password, now)
	}
	return u, nil
}

func (v *CredentialVerifier) recordFailure(ctx context.Context, u *userdomain.User, now time.Time) error {
	n, err := v.users.IncrementFailedAttempts(ctx, u.ID, now)
	if err != nil {
		return err
	}
	u.FailedAttempts = n
	if n < v.policy.MaxAttempts {
		return apperr.ErrInvalidCredentials
	}
	until := now.Add(v.policy.Duration)
	if err := v.users.Lock(ctx, u.ID, until); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	u.LockedUntil = &until
	v.log.Warn("account locked", zap.String("user_id", u.ID), zap.Int("failed_attempts", n), zap.Time("until", until))
	if v.ledger != nil {
		ev, err := audit.NewAccountLocked(u.ID, until, n)
		v.ledger.Log(ctx, ev, err)
	}
	return &apperr.LockedError{Until: until}
}

// rehash upgrades a stored hash to the current parameters. Failure leaves the
// old hash in place.
func (v *CredentialVerifier) rehash(ctx context.Context, u *userdomain.User, password string, now time.Time) {
	hash, err := v.hasher.Hash(password)
	if err != nil {
		v.log.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	if err := v.users.UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
		v.log.Warn("store rehashed password", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	u.PasswordHash = hash
}

// SetPassword validates next against the policy and stores its hash.
func (v *CredentialVerifier) SetPassword(ctx context.Context, userID, next string, policy security.PasswordPolicy) error {
	if err := policy.ValidatePassword(next); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrWeakPassword, err)
	}
	hash, err := v.hasher.Hash(next)
	if err != nil {
		return err
	}
	return v.users.UpdatePasswordHash(ctx, userID, hash, v.now().UTC())
}

// Matches reports whether password is the current password of u, without
// touching the lockout counter.
func (v *CredentialVerifier) Matches(u *userdomain.User, password string) bool {
	return v.hasher.Verify(password, u.PasswordHash)
}
