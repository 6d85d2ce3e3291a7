package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"asset-register/backend/internal/refreshtoken/domain"
)

// MemoryRepository is an in-process Repository. Rotate holds the mutex for the
// whole check-and-swap, mirroring the row lock in Postgres.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken // by id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func clone(t *domain.RefreshToken) *domain.RefreshToken {
	cp := *t
	return &cp
}

func (r *MemoryRepository) byHash(hash string) *domain.RefreshToken {
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return t
		}
	}
	return nil
}

func (r *MemoryRepository) insert(t *domain.RefreshToken) error {
	if r.byHash(t.TokenHash) != nil {
		return errors.New("duplicate token hash")
	}
	r.tokens[t.ID] = clone(t)
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(t)
}

func (r *MemoryRepository) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.byHash(hash); t != nil {
		return clone(t), nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok {
		return clone(t), nil
	}
	return nil, nil
}

func (r *MemoryRepository) Rotate(_ context.Context, oldHash string, now time.Time, next BuildNext) (*domain.RefreshToken, *domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.byHash(oldHash)
	if old == nil {
		return nil, nil, ErrNotFound
	}
	if !old.Usable(now) {
		return clone(old), nil, ErrNotUsable
	}
	created, err := next(clone(old))
	if err != nil {
		return clone(old), nil, err
	}
	if err := r.insert(created); err != nil {
		return clone(old), nil, err
	}
	revokedAt := now
	id := created.ID
	old.Revoked, old.RevokedAt, old.RevokeReason, old.ReplacedBy = true, &revokedAt, domain.ReasonRotated, &id
	return clone(old), clone(created), nil
}

func (r *MemoryRepository) revoke(t *domain.RefreshToken, reason string, now time.Time) bool {
	if t.Revoked {
		return false
	}
	at := now
	t.Revoked, t.RevokedAt, t.RevokeReason = true, &at, reason
	return true
}

func (r *MemoryRepository) Revoke(_ context.Context, hash, reason string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.byHash(hash)
	if t == nil {
		return false, nil
	}
	return r.revoke(t, reason, now), nil
}

func (r *MemoryRepository) RevokeByID(_ context.Context, id, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok {
		r.revoke(t, reason, now)
	}
	return nil
}

func (r *MemoryRepository) RevokeAllForUser(_ context.Context, userID, reason string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && r.revoke(t, reason, now) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountActive(_ context.Context, userID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if t.UserID == userID && t.Usable(now) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) PurgeBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if int(n) >= limit {
			break
		}
		if t.ExpiresAt.Before(cutoff) || (t.Revoked && t.RevokedAt != nil && t.RevokedAt.Before(cutoff)) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}
