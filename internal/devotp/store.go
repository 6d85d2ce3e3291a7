// Package devotp keeps login codes in memory by challenge id so they can be
// read back in development instead of being texted. Never enabled in production.
package devotp

import (
	"context"
	"sync"
	"time"

	"asset-register/backend/internal/mfa"
)

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is a Deliverer that holds codes until they expire.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

var _ mfa.Deliverer = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

// Deliver stores d.Code under d.ChallengeID until d.ExpiresAt.
func (s *MemoryStore) Deliver(_ context.Context, d mfa.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[d.ChallengeID] = entry{code: d.Code, expiresAt: d.ExpiresAt}
	s.evictLocked()
	return nil
}

// evictLocked drops expired entries so abandoned challenges do not accumulate.
func (s *MemoryStore) evictLocked() {
	now := s.nowF()
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
		}
	}
}

// Get returns the code for challengeID if present and not expired.
func (s *MemoryStore) Get(_ context.Context, challengeID string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[challengeID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, challengeID)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
