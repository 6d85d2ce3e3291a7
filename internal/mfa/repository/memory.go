package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"asset-register/backend/internal/mfa/domain"
)

// MemoryRepository is an in-process DeviceRepository.
type MemoryRepository struct {
	mu      sync.Mutex
	devices map[string]*domain.Device // by user_id/id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*domain.Device)}
}

func deviceKey(userID, id string) string { return userID + "/" + id }

func cloneDevice(d *domain.Device) *domain.Device {
	cp := *d
	return &cp
}

func (r *MemoryRepository) Create(_ context.Context, d *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := deviceKey(d.UserID, d.ID)
	if _, ok := r.devices[k]; ok {
		return ErrDeviceExists
	}
	r.devices[k] = cloneDevice(d)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userID, id string) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceKey(userID, id)]; ok {
		return cloneDevice(d), nil
	}
	return nil, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, cloneDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) LatestActive(ctx context.Context, userID string) (*domain.Device, error) {
	all, _ := r.ListByUser(ctx, userID)
	for _, d := range all {
		if d.Active {
			return d, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Deactivate(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceKey(userID, id)]
	if !ok || !d.Active {
		return false, nil
	}
	d.Active = false
	return true, nil
}

func (r *MemoryRepository) MarkUsed(_ context.Context, userID, id string, step int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceKey(userID, id)]
	if !ok || !d.Active || d.LastUsedStep >= step {
		return false, nil
	}
	d.LastUsedStep, d.LastUsedAt = step, &at
	return true, nil
}

// MemoryChallengeStore is an in-process ChallengeStore.
type MemoryChallengeStore struct {
	mu    sync.Mutex
	items map[string]*memChallenge
	now   func() time.Time
}

type memChallenge struct {
	c        domain.Challenge
	attempts int
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{items: make(map[string]*memChallenge), now: time.Now}
}

// WithClock replaces the time source used for expiry.
func (s *MemoryChallengeStore) WithClock(now func() time.Time) *MemoryChallengeStore {
	s.now = now
	return s
}

func (s *MemoryChallengeStore) live(id string) *memChallenge {
	m, ok := s.items[id]
	if !ok {
		return nil
	}
	if m.c.Expired(s.now()) {
		delete(s.items, id)
		return nil
	}
	return m
}

func (s *MemoryChallengeStore) Put(_ context.Context, c *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = &memChallenge{c: *c}
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, id string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.live(id)
	if m == nil {
		return nil, ErrChallengeNotFound
	}
	c := m.c
	return &c, nil
}

func (s *MemoryChallengeStore) IncrAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.live(id)
	if m == nil {
		return 0, ErrChallengeNotFound
	}
	m.attempts++
	return m.attempts, nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(id) == nil {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}
