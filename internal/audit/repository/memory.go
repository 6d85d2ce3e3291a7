package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"asset-register/backend/internal/audit/domain"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]domain.Record
	// FailCreate makes Create return this error when set.
	FailCreate error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]domain.Record)}
}

func (m *MemoryRepository) Create(_ context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return m.FailCreate
	}
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("insert audit record: duplicate id %s", r.ID)
	}
	m.records[r.ID] = *r
	return nil
}

func (m *MemoryRepository) SetSignature(_ context.Context, id, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Signature != "" {
		return fmt.Errorf("store audit signature: record %s missing or already signed", id)
	}
	r.Signature = signature
	m.records[id] = r
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryRepository) List(_ context.Context, f domain.Filter) ([]*domain.Record, error) {
	m.mu.Lock()
	var out []*domain.Record
	for _, r := range m.records {
		if f.ActorID != "" && r.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && r.Action != f.Action {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !r.CreatedAt.Before(f.Until) {
			continue
		}
		r := r
		out = append(out, &r)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	offset := max(f.Offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit := clampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
