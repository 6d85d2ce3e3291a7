// Package audit is the tamper-evident audit ledger. Records are persisted
// synchronously, signed with HMAC-SHA256 and exported to sinks asynchronously.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/audit/domain"
	auditrepo "asset-register/backend/internal/audit/repository"
)

// Publisher receives signed records for export.
type Publisher interface {
	Publish(rec domain.Record)
}

// Ledger records, signs and verifies audit records.
type Ledger struct {
	repo   auditrepo.Repository
	signer *Signer
	pub    Publisher
	log    *zap.Logger
	now    func() time.Time
}

// NewLedger returns a Ledger. pub may be nil when no export is configured.
func NewLedger(repo auditrepo.Repository, signer *Signer, pub Publisher, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{repo: repo, signer: signer, pub: pub, log: log, now: time.Now}
}

// WithClock returns a copy of l using now as its time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// Record persists ev, then signs it. A signing or signature store failure is
// logged and the unsigned record is returned. Only a persist failure is an
// error, wrapping apperr.ErrAuditPersist.
func (l *Ledger) Record(ctx context.Context, ev Event) (*domain.Record, error) {
	rec := ev.draft()
	meta := RequestMetaFrom(ctx)
	rec.ID = uuid.NewString()
	rec.Category = ResolveCategory(rec.Category, rec.Action)
	rec.ClientIP = meta.ClientIP
	rec.UserAgent = meta.UserAgent
	rec.CreatedAt = l.now().UTC().Truncate(time.Microsecond)

	if err := l.repo.Create(ctx, &rec); err != nil {
		l.log.Error("audit persist failed", zap.String("action", rec.Action), zap.String("entity_id", rec.EntityID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperr.ErrAuditPersist, err)
	}

	sig, err := l.signer.Sign(&rec)
	if err != nil {
		l.log.Warn("audit sign failed", zap.String("audit_id", rec.ID), zap.Error(err))
		return &rec, nil
	}
	if err := l.repo.SetSignature(ctx, rec.ID, sig); err != nil {
		l.log.Warn("audit signature store failed", zap.String("audit_id", rec.ID), zap.Error(err))
		return &rec, nil
	}
	rec.Signature = sig
	if l.pub != nil {
		l.pub.Publish(rec)
	}
	return &rec, nil
}

// Log records ev without surfacing failures. It detaches from ctx cancellation
// so a request that finished still leaves its trail.
func (l *Ledger) Log(ctx context.Context, ev Event, err error) {
	if err != nil {
		l.log.Warn("audit event rejected", zap.Error(err))
		return
	}
	_, _ = l.Record(context.WithoutCancel(ctx), ev)
}

// Verify reports whether rec's signature matches its fields.
func (l *Ledger) Verify(rec *domain.Record) bool {
	return l.signer.Verify(rec)
}

// VerifyByID loads the stored record and verifies it. A missing record is
// reported as not found.
func (l *Ledger) VerifyByID(ctx context.Context, id string) (*domain.Record, bool, error) {
	rec, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, apperr.ErrNotFound
	}
	return rec, l.signer.Verify(rec), nil
}

// List returns stored records matching f, newest first.
func (l *Ledger) List(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	return l.repo.List(ctx, f)
}
