// Package metrics defines the Prometheus collectors of the auth service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "asset_register"

// Metrics groups every collector. Build one per process with New.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	MFAChallenges   *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	SessionsRevoked *prometheus.CounterVec
	SweepRows       *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	HTTPRequests    *prometheus.HistogramVec
	GRPCRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"result"}),
		MFAChallenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "mfa_challenges_total",
			Help: "MFA challenge events by stage and outcome.",
		}, []string{"stage", "result"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "token_refreshes_total",
			Help: "Refresh token rotations by outcome.",
		}, []string{"result"}),
		SessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "revoked_total",
			Help: "Sessions invalidated by reason.",
		}, []string{"reason"}),
		SweepRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "sweep_rows_total",
			Help: "Rows touched by the session sweep.",
		}, []string{"kind"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "sweep_duration_seconds",
			Help:    "Duration of session sweep runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "grpc", Name: "requests_total",
			Help: "Unary RPCs handled by method and status code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(m.LoginAttempts, m.MFAChallenges, m.TokenRefreshes, m.SessionsRevoked,
		m.SweepRows, m.SweepDuration, m.HTTPRequests, m.GRPCRequests)
	return m
}

// RegisterAuditExport exposes the audit dispatcher counters as gauges read at
// scrape time.
func RegisterAuditExport(reg prometheus.Registerer, dropped, failed func() uint64) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "export_dropped_total",
			Help: "Audit records dropped because the export buffer was full.",
		}, func() float64 { return float64(dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "export_failed_total",
			Help: "Audit sink exports that returned an error.",
		}, func() float64 { return float64(failed()) }),
	)
}
