package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"asset-register/backend/internal/session"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	csrfCookie    = "csrf_token"
	csrfHeader    = "X-CSRF-Token"
	// refreshPath scopes the refresh cookie to the auth routes.
	refreshPath = "/api/v1/auth"
)

// CookieConfig controls the auth cookies.
type CookieConfig struct {
	// Secure is false only in development over plain HTTP.
	Secure bool
	Domain string
}

func (c CookieConfig) cookie(name, value, path string, expires time.Time, httpOnly bool, now time.Time) *http.Cookie {
	maxAge := int(expires.Sub(now) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// setAuthCookies writes the token cookies and a fresh CSRF token, which it returns.
func (c CookieConfig) setAuthCookies(w http.ResponseWriter, est *session.Established, now time.Time) string {
	csrf := uuid.NewString()
	http.SetCookie(w, c.cookie(accessCookie, est.Access.Token, "/", est.Access.ExpiresAt, true, now))
	http.SetCookie(w, c.cookie(refreshCookie, est.Refresh.Token, refreshPath, est.Refresh.ExpiresAt, true, now))
	// Readable by scripts so the client can echo it in X-CSRF-Token.
	http.SetCookie(w, c.cookie(csrfCookie, csrf, "/", est.Refresh.ExpiresAt, false, now))
	return csrf
}

func (c CookieConfig) clearAuthCookies(w http.ResponseWriter) {
	for _, ck := range []struct {
		name, path string
		httpOnly   bool
	}{
		{accessCookie, "/", true},
		{refreshCookie, refreshPath, true},
		{csrfCookie, "/", false},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     ck.path,
			Domain:   c.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: ck.httpOnly,
			Secure:   c.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// validCSRF checks the double-submit token: the X-CSRF-Token header must equal
// the csrf_token cookie.
func validCSRF(r *http.Request) bool {
	cookie := cookieValue(r, csrfCookie)
	header := strings.TrimSpace(r.Header.Get(csrfHeader))
	if cookie == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) == 1
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
