package repository

import (
	"context"
	"time"

	"asset-register/backend/internal/user/domain"
)

// Repository persists users and their login-failure state.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// IncrementFailedAttempts bumps the counter and returns the new value. An
	// expired lock is cleared first so counting restarts at 1.
	IncrementFailedAttempts(ctx context.Context, id string, now time.Time) (int, error)
	Lock(ctx context.Context, id string, until time.Time) error
	ResetFailedAttempts(ctx context.Context, id string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool, now time.Time) error
}
