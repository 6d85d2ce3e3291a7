// Package http is the REST boundary of the trust layer: routing, cookies,
// CSRF and the mapping of domain errors to responses.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"asset-register/backend/internal/audit"
	"asset-register/backend/internal/devotp"
	devotphandler "asset-register/backend/internal/devotp/handler"
	healthhandler "asset-register/backend/internal/health/handler"
	identityservice "asset-register/backend/internal/identity/service"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/platform/rbac"
)

// Deps are the collaborators of the router.
type Deps struct {
	Auth *identityservice.AuthService
	// Sweeper and SweepToken enable POST /internal/sweep when both are set.
	Sweeper    SweepRunner
	SweepToken string
	// Ledger and Permissions enable the admin audit view.
	Ledger      *audit.Ledger
	Permissions rbac.PermissionChecker
	Health      *healthhandler.Server
	// DevOTP mounts GET /dev/otp/{challengeID}. Leave nil outside development.
	DevOTP      *devotp.MemoryStore
	IPs         *audit.IPResolver
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Cookies     CookieConfig
	CORSOrigins []string
	Log         *zap.Logger
	Now         func() time.Time
}

// NewRouter creates a chi router with every route registered.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.IPs == nil {
		d.IPs = audit.NewIPResolver(nil)
	}
	h := &Handler{
		auth: d.Auth, sweeper: d.Sweeper, sweepToken: d.SweepToken,
		ledger: d.Ledger, perms: d.Permissions,
		cookies: d.Cookies, log: d.Log, now: d.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestMeta(d.IPs))
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(instrument(d.Metrics))
	}
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Session-ID", "X-Device-ID"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if d.Health != nil {
		r.Get("/healthz", d.Health.Liveness())
		r.Get("/readyz", d.Health.Readiness())
	}
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/me", h.Me)
			r.Get("/sessions", h.Sessions)
			r.Post("/sessions/revoke-others", h.RevokeOthers)
			r.Post("/otp/enroll", h.EnrollOTP)
			r.Post("/otp/unenroll", h.UnenrollOTP)
			r.Post("/password", h.ChangePassword)
		})
	})

	if d.Ledger != nil {
		r.Route("/api/v1/admin/audit", func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(h.requirePermission(rbac.PermissionAuditRead))
			r.Get("/", h.ListAudit)
			r.Get("/{id}", h.VerifyAudit)
		})
	}

	if d.Sweeper != nil && d.SweepToken != "" {
		r.Post("/internal/sweep", h.Sweep)
	}
	if d.DevOTP != nil {
		r.Route("/dev/otp", func(r chi.Router) {
			devotphandler.Routes(r, d.DevOTP)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: "method not allowed"})
	})
	return r
}
