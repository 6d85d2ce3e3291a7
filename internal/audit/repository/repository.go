package repository

import (
	"context"

	"asset-register/backend/internal/audit/domain"
)

// Repository persists audit records. Records are append-only: the signature is
// the only column written after insert.
type Repository interface {
	Create(ctx context.Context, r *domain.Record) error
	SetSignature(ctx context.Context, id, signature string) error
	// GetByID returns the record for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Record, error)
	// List returns records matching f, newest first.
	List(ctx context.Context, f domain.Filter) ([]*domain.Record, error)
}

// DefaultListLimit applies when Filter.Limit is zero; MaxListLimit caps it.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}
