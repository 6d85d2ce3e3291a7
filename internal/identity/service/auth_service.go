// Package service orchestrates login, MFA, token refresh and session
// management on top of the credential, session, OTP and audit components.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/audit"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/mfa"
	rtdomain "asset-register/backend/internal/refreshtoken/domain"
	"asset-register/backend/internal/security"
	"asset-register/backend/internal/session"
	sessiondomain "asset-register/backend/internal/session/domain"
	userdomain "asset-register/backend/internal/user/domain"
	userrepo "asset-register/backend/internal/user/repository"
)

const tracerName = "asset-register/identity"

// LoginResult is either a set of tokens or a pending MFA challenge.
type LoginResult struct {
	Tokens             *session.Established
	User               *userdomain.User
	MFARequired        bool
	ChallengeID        string
	ChallengeExpiresAt time.Time
}

// Principal is the caller resolved from an access token.
type Principal struct {
	UserID    string
	Username  string
	SessionID string
	Session   *sessiondomain.Session
}

// AuthService implements the auth flows exposed by the HTTP boundary.
type AuthService struct {
	creds    *CredentialVerifier
	users    userrepo.Repository
	sessions *session.Manager
	otp      *mfa.Service
	tokens   *security.TokenService
	ledger   *audit.Ledger
	policy   security.PasswordPolicy
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      *zap.Logger
}

// Deps are the collaborators of AuthService.
type Deps struct {
	Credentials *CredentialVerifier
	Users       userrepo.Repository
	Sessions    *session.Manager
	OTP         *mfa.Service
	Tokens      *security.TokenService
	Ledger      *audit.Ledger
	Policy      security.PasswordPolicy
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// NewAuthService returns an AuthService. Every dependency except Log is required.
func NewAuthService(d Deps) *AuthService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Policy.MinLength == 0 {
		d.Policy = security.DefaultPasswordPolicy
	}
	return &AuthService{
		creds: d.Credentials, users: d.Users, sessions: d.Sessions, otp: d.OTP, tokens: d.Tokens,
		ledger: d.Ledger, policy: d.Policy, metrics: d.Metrics, log: d.Log,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *AuthService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Code(err))
	}
	span.End()
}

// Login verifies credentials and either establishes a session or, for users
// with an enrolled OTP device, opens an MFA challenge.
func (s *AuthService) Login(ctx context.Context, username, password string, dev devicedomain.Info) (res *LoginResult, err error) {
	ctx, span := s.start(ctx, "auth.Login", attribute.String("device.type", string(dev.Type)))
	defer func() { endSpan(span, err) }()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.metrics.LoginAttempts.WithLabelValues("invalid_input").Inc()
		return nil, apperr.ErrInvalidCredentials
	}
	u, err := s.creds.Authenticate(ctx, username, password)
	if err != nil {
		s.loginFailed(ctx, username, u, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))

	if err := s.precheckConflict(ctx, u.ID, dev); err != nil {
		s.loginFailed(ctx, username, u, err)
		return nil, err
	}

	if u.MFAEnabled {
		hasDevice, err := s.otp.HasActiveDevice(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if hasDevice {
			c, err := s.otp.Begin(ctx, u.ID, u.Phone, dev)
			if err != nil {
				s.metrics.MFAChallenges.WithLabelValues("begin", "error").Inc()
				return nil, err
			}
			s.metrics.MFAChallenges.WithLabelValues("begin", "issued").Inc()
			s.metrics.LoginAttempts.WithLabelValues("mfa_required").Inc()
			return &LoginResult{User: u, MFARequired: true, ChallengeID: c.ID, ChallengeExpiresAt: c.ExpiresAt}, nil
		}
		s.log.Warn("mfa enabled without an active device", zap.String("user_id", u.ID))
	}
	return s.establish(ctx, u, dev)
}

// precheckConflict rejects a login early when another device holds the
// active session, so an MFA code is not sent for a login that cannot finish.
// The session manager re-checks atomically when the session is created.
func (s *AuthService) precheckConflict(ctx context.Context, userID string, dev devicedomain.Info) error {
	active, err := s.sessions.ActiveSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, a := range active {
		if !a.Device.SameDevice(dev) {
			return apperr.ErrSessionConflict
		}
	}
	return nil
}

func (s *AuthService) establish(ctx context.Context, u *userdomain.User, dev devicedomain.Info) (*LoginResult, error) {
	est, err := s.sessions.Establish(ctx, u.ID, s.sessions.TTL(u.SessionTimeout), dev)
	if err != nil {
		s.loginFailed(ctx, u.Username, u, err)
		return nil, err
	}
	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	ev, evErr := audit.NewLoginSucceeded(u.ID, est.Session.ID, dev.ID, est.Reused)
	s.ledger.Log(ctx, ev, evErr)
	return &LoginResult{Tokens: est, User: u}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, username string, u *userdomain.User, err error) {
	reason := apperr.Code(err)
	s.metrics.LoginAttempts.WithLabelValues(reason).Inc()
	userID := ""
	if u != nil {
		userID = u.ID
	}
	s.log.Info("login failed", zap.String("user_id", userID), zap.String("reason", reason))
	ev, evErr := audit.NewLoginFailed(username, userID, reason)
	s.ledger.Log(ctx, ev, evErr)
}

// VerifyOTP completes an MFA challenge and establishes the session on the
// device that started the login.
func (s *AuthService) VerifyOTP(ctx context.Context, challengeID, code string) (res *LoginResult, err error) {
	ctx, span := s.start(ctx, "auth.VerifyOTP")
	defer func() { endSpan(span, err) }()

	if challengeID == "" || code == "" {
		return nil, apperr.ErrInvalidCode
	}
	c, err := s.otp.Complete(ctx, challengeID, code)
	if err != nil {
		s.metrics.MFAChallenges.WithLabelValues("complete", apperr.Code(err)).Inc()
		return nil, err
	}
	s.metrics.MFAChallenges.WithLabelValues("complete", "success").Inc()
	u, err := s.users.GetByID(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive() {
		return nil, apperr.ErrAccountInactive
	}
	return s.establish(ctx, u, c.Device)
}

// Refresh rotates refreshRaw. sessionHint, when set, must name the session the
// token belongs to.
func (s *AuthService) Refresh(ctx context.Context, refreshRaw, sessionHint string) (est *session.Established, err error) {
	ctx, span := s.start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()
	defer func() {
		result := "success"
		if err != nil {
			result = apperr.Code(err)
		}
		s.metrics.TokenRefreshes.WithLabelValues(result).Inc()
	}()

	claims, err := s.tokens.Verify(refreshRaw, security.TokenRefresh)
	if err != nil {
		return nil, err
	}
	if sessionHint != "" && sessionHint != claims.SessionID {
		return nil, apperr.ErrSessionInvalidated
	}
	u, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive() {
		return nil, apperr.ErrSessionInvalidated
	}
	est, err = s.sessions.Renew(ctx, claims, refreshRaw, s.sessions.TTL(u.SessionTimeout))
	if errors.Is(err, apperr.ErrReuseDetected) {
		s.log.Warn("refresh token reuse", zap.String("user_id", u.ID), zap.String("session_id", claims.SessionID))
		s.metrics.SessionsRevoked.WithLabelValues(rtdomain.ReasonReuseDetected).Inc()
		ev, evErr := audit.NewTokenReuseDetected(u.ID, claims.ID, claims.SessionID)
		s.ledger.Log(ctx, ev, evErr)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	ev, evErr := audit.NewTokenRefreshed(u.ID, est.Session.ID, est.Refresh.JTI)
	s.ledger.Log(ctx, ev, evErr)
	return est, nil
}

// Authenticate resolves an access token to the calling user and session.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.Verify(accessToken, security.TokenAccess)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Validate(ctx, claims.SessionID, accessToken)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID() {
		return nil, apperr.ErrSessionInvalidated
	}
	u, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive() {
		return nil, apperr.ErrAccountInactive
	}
	return &Principal{UserID: u.ID, Username: u.Username, SessionID: sess.ID, Session: sess}, nil
}

// CurrentUser returns the account behind p.
func (s *AuthService) CurrentUser(ctx context.Context, p *Principal) (*userdomain.User, error) {
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.ErrSessionInvalidated
	}
	return u, nil
}

// Logout ends the caller's session.
func (s *AuthService) Logout(ctx context.Context, p *Principal) error {
	if err := s.sessions.Invalidate(ctx, p.SessionID, rtdomain.ReasonLogout); err != nil {
		return err
	}
	s.metrics.SessionsRevoked.WithLabelValues(rtdomain.ReasonLogout).Inc()
	ev, evErr := audit.NewLogout(p.UserID, p.SessionID)
	s.ledger.Log(ctx, ev, evErr)
	return nil
}

// LogoutWithRefresh ends the session refreshRaw is bound to. No access token
// is needed, so a client whose access token has lapsed can still sign out.
func (s *AuthService) LogoutWithRefresh(ctx context.Context, refreshRaw string) error {
	claims, err := s.tokens.Verify(refreshRaw, security.TokenRefresh)
	if err != nil {
		return err
	}
	sess, err := s.sessions.EndByRefresh(ctx, claims.SessionID, refreshRaw, rtdomain.ReasonLogout)
	if err != nil {
		return err
	}
	s.metrics.SessionsRevoked.WithLabelValues(rtdomain.ReasonLogout).Inc()
	ev, evErr := audit.NewLogout(sess.UserID, sess.ID)
	s.ledger.Log(ctx, ev, evErr)
	return nil
}

// Sessions lists the caller's live sessions.
func (s *AuthService) Sessions(ctx context.Context, p *Principal) ([]*sessiondomain.Session, error) {
	return s.sessions.ActiveSessions(ctx, p.UserID)
}

// RevokeOthers ends every session of the caller except the current one.
func (s *AuthService) RevokeOthers(ctx context.Context, p *Principal) (int, error) {
	before, err := s.sessions.ActiveSessions(ctx, p.UserID)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeOthers(ctx, p.UserID, p.SessionID)
	if err != nil {
		return n, err
	}
	for _, other := range before {
		if other.ID == p.SessionID {
			continue
		}
		ev, evErr := audit.NewSessionRevoked(p.UserID, other.ID, rtdomain.ReasonSessionRevoked)
		s.ledger.Log(ctx, ev, evErr)
	}
	s.metrics.SessionsRevoked.WithLabelValues(rtdomain.ReasonSessionRevoked).Add(float64(n))
	return n, nil
}

// ChangePassword replaces the caller's password and ends every session,
// including the current one.
func (s *AuthService) ChangePassword(ctx context.Context, p *Principal, current, next string) (err error) {
	ctx, span := s.start(ctx, "auth.ChangePassword", attribute.String("user.id", p.UserID))
	defer func() { endSpan(span, err) }()

	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.ErrSessionInvalidated
	}
	if !s.creds.Matches(u, current) {
		return apperr.ErrInvalidCredentials
	}
	if current == next {
		return fmt.Errorf("%w: new password must differ from the current one", apperr.ErrWeakPassword)
	}
	if err := s.creds.SetPassword(ctx, u.ID, next, s.policy); err != nil {
		return err
	}
	n, err := s.sessions.InvalidateAll(ctx, u.ID, rtdomain.ReasonPasswordChange)
	if err != nil {
		return fmt.Errorf("password changed but sessions not revoked: %w", err)
	}
	s.metrics.SessionsRevoked.WithLabelValues(rtdomain.ReasonPasswordChange).Add(float64(n))
	ev, evErr := audit.NewPasswordChanged(u.ID, n)
	s.ledger.Log(ctx, ev, evErr)
	return nil
}

// EnrollOTP registers an OTP device for the caller and turns MFA on. An empty
// deviceID gets a generated one.
func (s *AuthService) EnrollOTP(ctx context.Context, p *Principal, deviceID, label string) (*mfa.Enrollment, error) {
	enr, err := s.otp.Enroll(ctx, p.UserID, p.Username, strings.TrimSpace(deviceID), label)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetMFAEnabled(ctx, p.UserID, true, time.Now().UTC()); err != nil {
		return nil, err
	}
	ev, evErr := audit.NewOTPEnrolled(p.UserID, enr.Device.ID)
	s.ledger.Log(ctx, ev, evErr)
	return enr, nil
}

// UnenrollOTP deactivates a device; MFA turns off with the last one.
func (s *AuthService) UnenrollOTP(ctx context.Context, p *Principal, deviceID string) error {
	if err := s.otp.Unenroll(ctx, p.UserID, deviceID); err != nil {
		return err
	}
	remaining, err := s.otp.HasActiveDevice(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !remaining {
		if err := s.users.SetMFAEnabled(ctx, p.UserID, false, time.Now().UTC()); err != nil {
			return err
		}
	}
	ev, evErr := audit.NewOTPUnenrolled(p.UserID, deviceID)
	s.ledger.Log(ctx, ev, evErr)
	return nil
}

// VerifyDevice checks a code from one of the caller's devices, e.g. to confirm
// a fresh enrollment.
func (s *AuthService) VerifyDevice(ctx context.Context, p *Principal, deviceID, code string) error {
	return s.otp.VerifyDevice(ctx, p.UserID, deviceID, code)
}
