package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"asset-register/backend/internal/audit/domain"
)

// ErrInvalidEvent is returned by event constructors for missing required fields.
var ErrInvalidEvent = errors.New("audit: invalid event")

// Event is one of the typed audit events in this package. The set is closed:
// only types declared here implement it.
type Event interface {
	draft() domain.Record
}

func invalid(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidEvent, field)
}

// Action names recorded by the ledger.
const (
	ActionLoginSucceeded     = "login_succeeded"
	ActionLoginFailed        = "login_failed"
	ActionAccountLocked      = "account_locked"
	ActionLogout             = "logout"
	ActionTokenRefreshed     = "token_refreshed"
	ActionTokenReuseDetected = "refresh_token_reuse_detected"
	ActionSessionRevoked     = "session_revoked"
	ActionOTPEnrolled        = "otp_enrolled"
	ActionOTPUnenrolled      = "otp_unenrolled"
	ActionPasswordChanged    = "password_changed"
	ActionSweepCompleted     = "sweep_completed"
)

type LoginSucceeded struct {
	userID    string
	sessionID string
	deviceID  string
	reused    bool
}

// NewLoginSucceeded records a completed login on sessionID.
func NewLoginSucceeded(userID, sessionID, deviceID string, reused bool) (LoginSucceeded, error) {
	if userID == "" {
		return LoginSucceeded{}, invalid("user id")
	}
	if sessionID == "" {
		return LoginSucceeded{}, invalid("session id")
	}
	return LoginSucceeded{userID: userID, sessionID: sessionID, deviceID: deviceID, reused: reused}, nil
}

func (e LoginSucceeded) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.userID, Action: ActionLoginSucceeded,
		EntityType: "session", EntityID: e.sessionID,
		After: mustJSON(map[string]any{"device_id": e.deviceID, "reused": e.reused}),
	}
}

// LoginFailed carries the attempted username, never a password.
type LoginFailed struct {
	username string
	userID   string
	reason   string
}

func NewLoginFailed(username, userID, reason string) (LoginFailed, error) {
	if username == "" {
		return LoginFailed{}, invalid("username")
	}
	if reason == "" {
		return LoginFailed{}, invalid("reason")
	}
	return LoginFailed{username: username, userID: userID, reason: reason}, nil
}

func (e LoginFailed) draft() domain.Record {
	actorType, actorID := domain.ActorUser, e.userID
	if actorID == "" {
		actorType = domain.ActorSystem
	}
	return domain.Record{
		ActorType: actorType, ActorID: actorID, Action: ActionLoginFailed,
		EntityType: "user", EntityID: e.userID,
		After: mustJSON(map[string]any{"username": e.username, "reason": e.reason}),
	}
}

type AccountLocked struct {
	userID   string
	until    time.Time
	attempts int
}

func NewAccountLocked(userID string, until time.Time, attempts int) (AccountLocked, error) {
	if userID == "" {
		return AccountLocked{}, invalid("user id")
	}
	if until.IsZero() {
		return AccountLocked{}, invalid("lock expiry")
	}
	return AccountLocked{userID: userID, until: until, attempts: attempts}, nil
}

func (e AccountLocked) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorSystem, Action: ActionAccountLocked,
		EntityType: "user", EntityID: e.userID,
		After: mustJSON(map[string]any{"locked_until": e.until.UTC().Format(time.RFC3339), "failed_attempts": e.attempts}),
	}
}

type Logout struct {
	userID    string
	sessionID string
}

func NewLogout(userID, sessionID string) (Logout, error) {
	if userID == "" {
		return Logout{}, invalid("user id")
	}
	if sessionID == "" {
		return Logout{}, invalid("session id")
	}
	return Logout{userID: userID, sessionID: sessionID}, nil
}

func (e Logout) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.userID, Action: ActionLogout,
		EntityType: "session", EntityID: e.sessionID,
	}
}

type TokenRefreshed struct {
	userID    string
	sessionID string
	tokenID   string
}

func NewTokenRefreshed(userID, sessionID, tokenID string) (TokenRefreshed, error) {
	if userID == "" {
		return TokenRefreshed{}, invalid("user id")
	}
	if sessionID == "" {
		return TokenRefreshed{}, invalid("session id")
	}
	return TokenRefreshed{userID: userID, sessionID: sessionID, tokenID: tokenID}, nil
}

func (e TokenRefreshed) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.userID, Action: ActionTokenRefreshed,
		EntityType: "session", EntityID: e.sessionID,
		After: mustJSON(map[string]any{"refresh_token_id": e.tokenID}),
	}
}

// TokenReuseDetected is recorded when a revoked refresh token is presented.
type TokenReuseDetected struct {
	userID    string
	tokenID   string
	sessionID string
}

// NewTokenReuseDetected records reuse of the token with jti tokenID that was
// presented for sessionID. Every session of the user is invalidated.
func NewTokenReuseDetected(userID, tokenID, sessionID string) (TokenReuseDetected, error) {
	if userID == "" {
		return TokenReuseDetected{}, invalid("user id")
	}
	return TokenReuseDetected{userID: userID, tokenID: tokenID, sessionID: sessionID}, nil
}

func (e TokenReuseDetected) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorSystem, Action: ActionTokenReuseDetected,
		EntityType: "refresh_token", EntityID: e.tokenID,
		After: mustJSON(map[string]any{"user_id": e.userID, "session_id": e.sessionID, "sessions_invalidated": "all"}),
	}
}

type SessionRevoked struct {
	actorID   string
	sessionID string
	reason    string
}

// NewSessionRevoked records revocation of sessionID by actorID. An empty
// actorID means the system revoked it.
func NewSessionRevoked(actorID, sessionID, reason string) (SessionRevoked, error) {
	if sessionID == "" {
		return SessionRevoked{}, invalid("session id")
	}
	if reason == "" {
		return SessionRevoked{}, invalid("reason")
	}
	return SessionRevoked{actorID: actorID, sessionID: sessionID, reason: reason}, nil
}

func (e SessionRevoked) draft() domain.Record {
	actorType := domain.ActorUser
	if e.actorID == "" {
		actorType = domain.ActorSystem
	}
	return domain.Record{
		ActorType: actorType, ActorID: e.actorID, Action: ActionSessionRevoked,
		EntityType: "session", EntityID: e.sessionID,
		Before:   mustJSON(map[string]any{"status": "active"}),
		After:    mustJSON(map[string]any{"status": "invalidated", "reason": e.reason}),
		Category: domain.CategoryAccessControl,
	}
}

type OTPEnrolled struct {
	userID   string
	deviceID string
}

func NewOTPEnrolled(userID, deviceID string) (OTPEnrolled, error) {
	if userID == "" {
		return OTPEnrolled{}, invalid("user id")
	}
	if deviceID == "" {
		return OTPEnrolled{}, invalid("device id")
	}
	return OTPEnrolled{userID: userID, deviceID: deviceID}, nil
}

func (e OTPEnrolled) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.userID, Action: ActionOTPEnrolled,
		EntityType: "otp_device", EntityID: e.deviceID,
		After: mustJSON(map[string]any{"active": true}),
	}
}

type OTPUnenrolled struct {
	userID   string
	deviceID string
}

func NewOTPUnenrolled(userID, deviceID string) (OTPUnenrolled, error) {
	if userID == "" {
		return OTPUnenrolled{}, invalid("user id")
	}
	if deviceID == "" {
		return OTPUnenrolled{}, invalid("device id")
	}
	return OTPUnenrolled{userID: userID, deviceID: deviceID}, nil
}

func (e OTPUnenrolled) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.userID, Action: ActionOTPUnenrolled,
		EntityType: "otp_device", EntityID: e.deviceID,
		Before: mustJSON(map[string]any{"active": true}),
		After:  mustJSON(map[string]any{"active": false}),
	}
}

type PasswordChanged struct {
	userID          string
	sessionsRevoked int
}

func NewPasswordChanged(userID string, sessionsRevoked int) (PasswordChanged, error) {
	if userID == "" {
		return PasswordChanged{}, invalid("user id")
	}
	return PasswordChanged{userID: userID, sessionsRevoked: sessionsRevoked}, nil
}

func (e PasswordChanged) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.userID, Action: ActionPasswordChanged,
		EntityType: "user", EntityID: e.userID,
		After: mustJSON(map[string]any{"sessions_invalidated": e.sessionsRevoked}),
	}
}

type SweepCompleted struct {
	expired int64
	purged  int64
	tokens  int64
	elapsed time.Duration
}

func NewSweepCompleted(expired, purgedSessions, purgedTokens int64, elapsed time.Duration) (SweepCompleted, error) {
	if expired < 0 || purgedSessions < 0 || purgedTokens < 0 {
		return SweepCompleted{}, fmt.Errorf("%w: negative counts", ErrInvalidEvent)
	}
	return SweepCompleted{expired: expired, purged: purgedSessions, tokens: purgedTokens, elapsed: elapsed}, nil
}

func (e SweepCompleted) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorSystem, Action: ActionSweepCompleted,
		EntityType: "session",
		After: mustJSON(map[string]any{
			"expired": e.expired, "purged_sessions": e.purged, "purged_tokens": e.tokens,
			"duration_ms": e.elapsed.Milliseconds(),
		}),
		Category: domain.CategorySystem,
	}
}

// DataChanged records a mutation of a register entity. Before and after must
// be valid JSON when set. Category is inferred from action unless given.
type DataChanged struct {
	actorID    string
	action     string
	entityType string
	entityID   string
	before     json.RawMessage
	after      json.RawMessage
	category   domain.Category
}

func NewDataChanged(actorID, action, entityType, entityID string, before, after json.RawMessage, category domain.Category) (DataChanged, error) {
	switch {
	case actorID == "":
		return DataChanged{}, invalid("actor id")
	case action == "":
		return DataChanged{}, invalid("action")
	case entityType == "":
		return DataChanged{}, invalid("entity type")
	}
	if category != "" && !category.Valid() {
		return DataChanged{}, fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, category)
	}
	for name, raw := range map[string]json.RawMessage{"before": before, "after": after} {
		if len(raw) > 0 && !json.Valid(raw) {
			return DataChanged{}, fmt.Errorf("%w: %s state is not valid JSON", ErrInvalidEvent, name)
		}
	}
	return DataChanged{
		actorID: actorID, action: action, entityType: entityType, entityID: entityID,
		before: before, after: after, category: category,
	}, nil
}

func (e DataChanged) draft() domain.Record {
	return domain.Record{
		ActorType: domain.ActorUser, ActorID: e.actorID, Action: e.action,
		EntityType: e.entityType, EntityID: e.entityID,
		Before: e.before, After: e.after, Category: e.category,
	}
}

func mustJSON(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("audit: marshal event state: %v", err))
	}
	return b
}
