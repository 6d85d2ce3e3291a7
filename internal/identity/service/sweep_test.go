package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-register/backend/internal/audit"
	auditrepo "asset-register/backend/internal/audit/repository"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/session"
)

func TestSweepObserver(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	signer, err := audit.NewSigner([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	ledger := audit.NewLedger(repo, signer, nil, nil)
	m := metrics.New(prometheus.NewRegistry())
	observe := SweepObserver(ledger, m, nil)

	observe(session.SweepResult{Expired: 3, PurgedSessions: 2, PurgedTokens: 5, Duration: 40 * time.Millisecond}, nil)
	observe(session.SweepResult{Skipped: true}, nil)
	observe(session.SweepResult{Expired: 1}, errors.New("deadline"))

	assert.Equal(t, float64(4), testutil.ToFloat64(m.SweepRows.WithLabelValues("expired")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.SweepRows.WithLabelValues("purged_tokens")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SessionsRevoked.WithLabelValues("expired")))

	f := &fixture{audits: repo}
	assert.Equal(t, 1, f.audited(t, audit.ActionSweepCompleted), "only the successful run is audited")
}
