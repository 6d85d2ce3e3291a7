package domain

import (
	"encoding/json"
	"time"
)

// ActorType says who performed the action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Category groups actions for reporting.
type Category string

const (
	CategoryAuthentication   Category = "authentication"
	CategoryDataModification Category = "data_modification"
	CategoryAccessControl    Category = "access_control"
	CategorySystem           Category = "system"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuthentication, CategoryDataModification, CategoryAccessControl, CategorySystem:
		return true
	}
	return false
}

// Record is one append-only audit entry. Signature covers every other field.
type Record struct {
	ID         string          `json:"id"`
	ActorType  ActorType       `json:"actor_type"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Category   Category        `json:"category"`
	ClientIP   string          `json:"client_ip"`
	UserAgent  string          `json:"user_agent"`
	CreatedAt  time.Time       `json:"created_at"`
	Signature  string          `json:"signature,omitempty"`
}

// Filter selects records for listing. Zero values match everything.
type Filter struct {
	ActorID string
	Action  string
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}
