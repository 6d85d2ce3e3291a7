package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/audit"
	identityservice "asset-register/backend/internal/identity/service"
	"asset-register/backend/internal/metrics"
)

type principalKey struct{}

// principalFrom returns the caller set by requireAuth.
func principalFrom(ctx context.Context) *identityservice.Principal {
	p, _ := ctx.Value(principalKey{}).(*identityservice.Principal)
	return p
}

// requestMeta resolves the client address and user agent once per request and
// makes them available to the audit ledger.
func requestMeta(ips *audit.IPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := audit.RequestMeta{
				ClientIP:  ips.Resolve(r.RemoteAddr, r.Header.Values("X-Forwarded-For"), r.Header.Get("X-Real-IP")),
				UserAgent: r.UserAgent(),
			}
			next.ServeHTTP(w, r.WithContext(audit.WithRequestMeta(r.Context(), meta)))
		})
	}
}

// requestLogger logs each request after it completes.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("client_ip", audit.RequestMetaFrom(r.Context()).ClientIP),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// instrument records request latency by route pattern, so ids in paths do
// not explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		})
	}
}

// bearerToken returns the token from "Authorization: Bearer ...", or "".
func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

// requireAuth puts the authenticated caller on the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.authenticate(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// authenticate resolves the access token from the Authorization header or,
// failing that, the access cookie. Cookie callers need the CSRF token on
// unsafe methods.
func (h *Handler) authenticate(r *http.Request) (*identityservice.Principal, error) {
	token := bearerToken(r)
	fromCookie := false
	if token == "" {
		token = cookieValue(r, accessCookie)
		fromCookie = true
	}
	if token == "" {
		return nil, apperr.ErrSessionNotFound
	}
	if fromCookie && !safeMethod(r.Method) && !validCSRF(r) {
		return nil, apperr.ErrForbidden
	}
	return h.auth.Authenticate(r.Context(), token)
}
