package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"asset-register/backend/internal/apperr"
	devicedomain "asset-register/backend/internal/device/domain"
	rtdomain "asset-register/backend/internal/refreshtoken/domain"
	rtrepo "asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository. Acquire and Renew hold the
// mutex for the whole decision, standing in for the row locks. Refresh tokens
// are written to the given token repository.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	tokens   rtrepo.Repository
	users    func(id string) bool
}

// NewMemoryRepository returns an empty repository writing grants to tokens.
func NewMemoryRepository(tokens rtrepo.Repository) *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session), tokens: tokens}
}

// WithUserCheck makes Acquire fail with ErrUnknownUser when exists reports false.
func (r *MemoryRepository) WithUserCheck(exists func(id string) bool) *MemoryRepository {
	r.users = exists
	return r
}

func cloneSession(s *domain.Session) *domain.Session {
	cp := *s
	return &cp
}

func (r *MemoryRepository) activeFor(userID string) *domain.Session {
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive() {
			return s
		}
	}
	return nil
}

func (r *MemoryRepository) Acquire(ctx context.Context, userID string, dev devicedomain.Info, now time.Time, mint MintFunc) (*domain.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users != nil && !r.users(userID) {
		return nil, false, ErrUnknownUser
	}
	active := r.activeFor(userID)
	if active != nil && active.ExpiredAt(now) {
		_ = active.Expire()
		active = nil
	}
	switch domain.Decide(active, dev, now) {
	case domain.DecisionConflict:
		return nil, false, apperr.ErrSessionConflict
	case domain.DecisionReuse:
		grant, err := mint(active.ID)
		if err != nil {
			return nil, false, err
		}
		if err := r.tokens.Create(ctx, grant.RefreshToken); err != nil {
			return nil, false, err
		}
		if active.RefreshTokenID != "" {
			if err := r.tokens.RevokeByID(ctx, active.RefreshTokenID, rtdomain.ReasonRotated, now); err != nil {
				return nil, false, err
			}
		}
		applyGrant(active, grant, now)
		active.Device.IP, active.Device.UserAgent = dev.IP, dev.UserAgent
		return cloneSession(active), true, nil
	default:
		s := &domain.Session{
			ID:           uuid.NewString(),
			UserID:       userID,
			Device:       dev,
			Status:       domain.StatusActive,
			LastActivity: now,
			CreatedAt:    now,
		}
		grant, err := mint(s.ID)
		if err != nil {
			return nil, false, err
		}
		if err := r.tokens.Create(ctx, grant.RefreshToken); err != nil {
			return nil, false, err
		}
		applyGrant(s, grant, now)
		r.sessions[s.ID] = s
		return cloneSession(s), false, nil
	}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (r *MemoryRepository) ListActiveByUser(_ context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive() {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) active(id string) *domain.Session {
	if s, ok := r.sessions[id]; ok && s.IsActive() {
		return s
	}
	return nil
}

func (r *MemoryRepository) Renew(ctx context.Context, id, tokenHash string, now time.Time, mint RenewFunc) (*domain.Session, *rtdomain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.active(id)
	if s == nil || s.ExpiredAt(now) {
		return nil, nil, ErrNotBound
	}
	var grant *Grant
	old, _, err := r.tokens.Rotate(ctx, tokenHash, now, func(o *rtdomain.RefreshToken) (*rtdomain.RefreshToken, error) {
		if o.ID != s.RefreshTokenID || o.UserID != s.UserID {
			return nil, ErrNotBound
		}
		g, err := mint(cloneSession(s), o)
		if err != nil {
			return nil, err
		}
		grant = g
		return g.RefreshToken, nil
	})
	if err != nil {
		return nil, old, err
	}
	applyGrant(s, grant, now)
	return cloneSession(s), old, nil
}

func (r *MemoryRepository) Touch(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.active(id); s != nil {
		s.LastActivity = now
	}
	return nil
}

func (r *MemoryRepository) Extend(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.active(id)
	if s == nil {
		return false, nil
	}
	s.ExpiresAt = expiresAt
	return true, nil
}

func (r *MemoryRepository) MarkExpired(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.active(id)
	if s == nil {
		return false, nil
	}
	return s.Expire() == nil, nil
}

func (r *MemoryRepository) Invalidate(_ context.Context, id string, now time.Time) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.active(id)
	if s == nil {
		return "", false, nil
	}
	_ = s.Invalidate(now)
	return s.RefreshTokenID, true, nil
}

func (r *MemoryRepository) InvalidateForUser(_ context.Context, userID, exceptID string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, s := range r.sessions {
		if s.UserID != userID || s.ID == exceptID || !s.IsActive() {
			continue
		}
		_ = s.Invalidate(now)
		if s.RefreshTokenID != "" {
			ids = append(ids, s.RefreshTokenID)
		}
	}
	return ids, nil
}

func (r *MemoryRepository) ExpireBatch(_ context.Context, now time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if int(n) >= limit {
			break
		}
		if s.IsActive() && s.ExpiredAt(now) {
			_ = s.Expire()
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) PurgeBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if int(n) >= limit {
			break
		}
		if s.IsActive() {
			continue
		}
		ended := s.ExpiresAt
		if s.InvalidatedAt != nil {
			ended = *s.InvalidatedAt
		}
		if ended.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
