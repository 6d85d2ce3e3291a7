package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"asset-register/backend/internal/audit"
	auditdomain "asset-register/backend/internal/audit/domain"
	auditrepo "asset-register/backend/internal/audit/repository"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/devotp"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/mfa"
	mfarepo "asset-register/backend/internal/mfa/repository"
	"asset-register/backend/internal/refreshtoken"
	rtrepo "asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/security"
	"asset-register/backend/internal/session"
	sessionrepo "asset-register/backend/internal/session/repository"
	userdomain "asset-register/backend/internal/user/domain"
	userrepo "asset-register/backend/internal/user/repository"
)

const alicePassword = "Harbour-Lights-42"

var (
	fastParams = security.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1}
	laptop     = devicedomain.Info{ID: "D1", Name: "laptop", Type: devicedomain.TypeDesktop}
	phone      = devicedomain.Info{ID: "D2", Name: "phone", Type: devicedomain.TypeMobile}
)

type fixture struct {
	svc      *AuthService
	creds    *CredentialVerifier
	users    *userrepo.MemoryRepository
	audits   *auditrepo.MemoryRepository
	codes    *devotp.MemoryStore
	sessions *session.Manager
	hasher   *security.Hasher
	metrics  *metrics.Metrics
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Now().UTC(), hasher: security.NewHasher(fastParams)}
	clock := func() time.Time { return f.now }

	f.users = userrepo.NewMemoryRepository()
	f.audits = auditrepo.NewMemoryRepository()
	signer, err := audit.NewSigner([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	ledger := audit.NewLedger(f.audits, signer, nil, nil).WithClock(clock)

	f.creds, err = NewCredentialVerifier(f.users, f.hasher, LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}, ledger, nil)
	require.NoError(t, err)
	f.creds.WithClock(clock)

	tokens := security.NewTestTokenService()
	rts := rtrepo.NewMemoryRepository()
	store := refreshtoken.NewStore(rts, nil).WithClock(clock)
	f.sessions = session.NewManager(sessionrepo.NewMemoryRepository(rts), store, tokens,
		session.Options{DefaultTTL: 8 * time.Hour}, nil).WithClock(clock)

	engine, err := mfa.NewEngine([]byte("institute-salt"))
	require.NoError(t, err)
	sealer, err := security.NewSealer([]byte(strings.Repeat("s", 32)))
	require.NoError(t, err)
	f.codes = devotp.NewMemoryStore()
	otp := mfa.NewService(engine, sealer, mfarepo.NewMemoryRepository(),
		mfarepo.NewMemoryChallengeStore().WithClock(clock), f.codes, mfa.Options{Window: 1}, nil).WithClock(clock)

	f.metrics = metrics.New(prometheus.NewRegistry())
	f.svc = NewAuthService(Deps{
		Credentials: f.creds, Users: f.users, Sessions: f.sessions, OTP: otp, Tokens: tokens,
		Ledger: ledger, Metrics: f.metrics,
	})
	return f
}

func (f *fixture) addUser(t *testing.T, id, username, password string) *userdomain.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	u := &userdomain.User{
		ID: id, Username: username, PasswordHash: hash, Phone: "+91 98765 43210",
		Status: userdomain.UserStatusActive, CreatedAt: f.now, UpdatedAt: f.now,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

// audited returns how many records with action exist.
func (f *fixture) audited(t *testing.T, action string) int {
	t.Helper()
	recs, err := f.audits.List(context.Background(), auditdomain.Filter{Action: action, Limit: 100})
	require.NoError(t, err)
	return len(recs)
}
