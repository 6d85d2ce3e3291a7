package service

import (
	"context"

	"go.uber.org/zap"

	"asset-register/backend/internal/audit"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/session"
)

// SweepObserver returns a session.Sweeper completion hook that records metrics
// and writes a system audit record for every run that did work. Skipped runs
// and failures are only logged.
func SweepObserver(ledger *audit.Ledger, m *metrics.Metrics, log *zap.Logger) func(session.SweepResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return func(res session.SweepResult, err error) {
		if m != nil {
			m.SweepRows.WithLabelValues("expired").Add(float64(res.Expired))
			m.SweepRows.WithLabelValues("purged_sessions").Add(float64(res.PurgedSessions))
			m.SweepRows.WithLabelValues("purged_tokens").Add(float64(res.PurgedTokens))
			if !res.Skipped {
				m.SweepDuration.Observe(res.Duration.Seconds())
			}
		}
		if err != nil {
			log.Error("session sweep failed", zap.Error(err), zap.Int64("expired", res.Expired))
			return
		}
		if res.Skipped || ledger == nil {
			return
		}
		if res.Expired > 0 && m != nil {
			m.SessionsRevoked.WithLabelValues("expired").Add(float64(res.Expired))
		}
		ev, evErr := audit.NewSweepCompleted(res.Expired, res.PurgedSessions, res.PurgedTokens, res.Duration)
		ledger.Log(context.Background(), ev, evErr)
	}
}
