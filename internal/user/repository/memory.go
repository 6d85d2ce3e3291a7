package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"asset-register/backend/internal/user/domain"
)

// ErrUserNotFound is returned by MemoryRepository mutations on unknown ids.
var ErrUserNotFound = errors.New("user not found")

// MemoryRepository is an in-process Repository for tests and local tooling.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*domain.User)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryRepository) update(id string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func (r *MemoryRepository) IncrementFailedAttempts(_ context.Context, id string, now time.Time) (int, error) {
	var n int
	err := r.update(id, func(u *domain.User) {
		if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
			u.LockedUntil = nil
			u.FailedAttempts = 0
		}
		u.FailedAttempts++
		u.UpdatedAt = now
		n = u.FailedAttempts
	})
	return n, err
}

func (r *MemoryRepository) Lock(_ context.Context, id string, until time.Time) error {
	return r.update(id, func(u *domain.User) { u.LockedUntil = &until })
}

func (r *MemoryRepository) ResetFailedAttempts(_ context.Context, id string, now time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.FailedAttempts = 0
		u.LockedUntil = nil
		u.UpdatedAt = now
	})
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, id, hash string, now time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.PasswordHash = hash
		u.UpdatedAt = now
	})
}

func (r *MemoryRepository) SetMFAEnabled(_ context.Context, id string, enabled bool, now time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.MFAEnabled = enabled
		u.UpdatedAt = now
	})
}
