package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/audit"
	"asset-register/backend/internal/device"
	identityservice "asset-register/backend/internal/identity/service"
	"asset-register/backend/internal/platform/rbac"
	"asset-register/backend/internal/session"
	sessiondomain "asset-register/backend/internal/session/domain"
	userdomain "asset-register/backend/internal/user/domain"
)

// SweepRunner runs one session sweep.
type SweepRunner interface {
	Sweep(ctx context.Context) (session.SweepResult, error)
}

// Handler serves the auth API.
type Handler struct {
	auth       *identityservice.AuthService
	sweeper    SweepRunner
	sweepToken string
	ledger     *audit.Ledger
	perms      rbac.PermissionChecker
	cookies    CookieConfig
	log        *zap.Logger
	now        func() time.Time
}

// --- Request DTOs ---

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

type otpVerifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type enrollRequest struct {
	DeviceID string `json:"device_id,omitempty"`
	Label    string `json:"label,omitempty"`
}

type unenrollRequest struct {
	DeviceID string `json:"device_id"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// --- Response DTOs ---

type userResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	MFAEnabled bool   `json:"mfa_enabled"`
	Status     string `json:"status"`
}

type tokenResponse struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	ExpiresIn        int64         `json:"expires_in"`
	SessionID        string        `json:"session_id"`
	SessionExpiresAt time.Time     `json:"session_expires_at"`
	Reused           bool          `json:"session_reused"`
	CSRFToken        string        `json:"csrf_token"`
	User             *userResponse `json:"user,omitempty"`
}

type mfaResponse struct {
	MFARequired bool      `json:"mfa_required"`
	ChallengeID string    `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type deviceResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	IP      string `json:"ip,omitempty"`
}

type sessionResponse struct {
	ID           string         `json:"id"`
	Device       deviceResponse `json:"device"`
	Current      bool           `json:"current"`
	LastActivity time.Time      `json:"last_activity"`
	ExpiresAt    time.Time      `json:"expires_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

type enrollResponse struct {
	DeviceID        string `json:"device_id"`
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type meResponse struct {
	userResponse
	SessionID string `json:"session_id"`
}

func toUserResponse(u *userdomain.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{ID: u.ID, Username: u.Username, MFAEnabled: u.MFAEnabled, Status: string(u.Status)}
}

func toSessionResponse(s *sessiondomain.Session, currentID string) sessionResponse {
	return sessionResponse{
		ID: s.ID,
		Device: deviceResponse{
			ID: s.Device.ID, Name: s.Device.Name, Type: string(s.Device.Type),
			Browser: s.Device.Browser, OS: s.Device.OS, IP: s.Device.IP,
		},
		Current:      s.ID == currentID,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
	}
}

// writeTokens sets the auth cookies and returns the tokens in the body.
func (h *Handler) writeTokens(w http.ResponseWriter, est *session.Established, u *userdomain.User) {
	now := h.now()
	csrf := h.cookies.setAuthCookies(w, est, now)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      est.Access.Token,
		RefreshToken:     est.Refresh.Token,
		TokenType:        "Bearer",
		ExpiresIn:        int64(est.Access.ExpiresAt.Sub(now).Seconds()),
		SessionID:        est.Session.ID,
		SessionExpiresAt: est.Session.ExpiresAt,
		Reused:           est.Reused,
		CSRFToken:        csrf,
		User:             toUserResponse(u),
	})
}

func describeDevice(r *http.Request, clientID, clientName string) device.Request {
	if clientID == "" {
		clientID = r.Header.Get("X-Device-ID")
	}
	return device.Request{
		ClientDeviceID: clientID,
		ClientName:     clientName,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		IP:             audit.RequestMetaFrom(r.Context()).ClientIP,
	}
}

// --- Handlers ---

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	dev := device.Describe(describeDevice(r, req.DeviceID, req.DeviceName))
	res, err := h.auth.Login(r.Context(), req.Username, req.Password, dev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.MFARequired {
		writeJSON(w, http.StatusAccepted, mfaResponse{MFARequired: true, ChallengeID: res.ChallengeID, ExpiresAt: res.ChallengeExpiresAt})
		return
	}
	h.writeTokens(w, res.Tokens, res.User)
}

// VerifyOTP handles POST /api/v1/auth/otp/verify.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.auth.VerifyOTP(r.Context(), strings.TrimSpace(req.ChallengeID), strings.TrimSpace(req.Code))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeTokens(w, res.Tokens, res.User)
}

// Refresh handles POST /api/v1/auth/refresh. The token comes from the body or,
// failing that, from the refresh cookie; the cookie path requires the CSRF token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, err := h.refreshToken(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if raw == "" {
		h.writeError(w, r, apperr.ErrSessionNotFound)
		return
	}
	est, err := h.auth.Refresh(r.Context(), raw, strings.TrimSpace(r.Header.Get("X-Session-ID")))
	if err != nil {
		h.cookies.clearAuthCookies(w)
		h.writeError(w, r, err)
		return
	}
	h.writeTokens(w, est, nil)
}

// refreshToken reads the refresh token from the body or, failing that, the
// refresh cookie. A cookie token is only accepted with a matching CSRF token.
func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) (string, error) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		return "", err
	}
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		return raw, nil
	}
	raw := cookieValue(r, refreshCookie)
	if raw != "" && !validCSRF(r) {
		return "", apperr.ErrForbidden
	}
	return raw, nil
}

// Logout handles POST /api/v1/auth/logout. The session is named by its refresh
// token so a client whose access token has lapsed can still end it; clients
// holding only an access token fall back to that.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.logout(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) error {
	raw, err := h.refreshToken(w, r)
	if err != nil {
		return err
	}
	if raw != "" {
		return h.auth.LogoutWithRefresh(r.Context(), raw)
	}
	p, err := h.authenticate(r)
	if err != nil {
		return err
	}
	return h.auth.Logout(r.Context(), p)
}

// Sessions handles GET /api/v1/auth/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	list, err := h.auth.Sessions(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s, p.SessionID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// RevokeOthers handles POST /api/v1/auth/sessions/revoke-others.
func (h *Handler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	n, err := h.auth.RevokeOthers(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

// EnrollOTP handles POST /api/v1/auth/otp/enroll. The secret is shown once.
func (h *Handler) EnrollOTP(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	enr, err := h.auth.EnrollOTP(r.Context(), principalFrom(r.Context()), req.DeviceID, req.Label)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, enrollResponse{
		DeviceID:        enr.Device.ID,
		Secret:          enr.SecretBase32,
		ProvisioningURI: enr.ProvisioningURI,
	})
}

// UnenrollOTP handles POST /api/v1/auth/otp/unenroll.
func (h *Handler) UnenrollOTP(w http.ResponseWriter, r *http.Request) {
	var req unenrollRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		h.writeError(w, r, apperr.ErrInvalidInput)
		return
	}
	if err := h.auth.UnenrollOTP(r.Context(), principalFrom(r.Context()), strings.TrimSpace(req.DeviceID)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles POST /api/v1/auth/password. Every session ends, so
// the cookies are cleared.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		h.writeError(w, r, apperr.ErrInvalidInput)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), principalFrom(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookies.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	u, err := h.auth.CurrentUser(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{userResponse: *toUserResponse(u), SessionID: p.SessionID})
}
