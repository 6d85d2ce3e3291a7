package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"asset-register/backend/internal/audit/domain"
)

// MinSigningKeyLen is the minimum HMAC key length in bytes.
const MinSigningKeyLen = 32

// ErrWeakSigningKey is returned when the signing key is too short.
var ErrWeakSigningKey = errors.New("audit: signing key must be at least 32 bytes")

// Signer computes and checks record signatures.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < MinSigningKeyLen {
		return nil, ErrWeakSigningKey
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// Canonical returns the signed form of r: a JSON object of every field except
// the signature, keys sorted at every level, time in UTC with microsecond
// precision so the form survives a round trip through Postgres.
func Canonical(r *domain.Record) ([]byte, error) {
	before, err := normalize(r.Before)
	if err != nil {
		return nil, fmt.Errorf("audit: before state: %w", err)
	}
	after, err := normalize(r.After)
	if err != nil {
		return nil, fmt.Errorf("audit: after state: %w", err)
	}
	fields := map[string]any{
		"id":          r.ID,
		"actor_type":  string(r.ActorType),
		"actor_id":    r.ActorID,
		"action":      r.Action,
		"entity_type": r.EntityType,
		"entity_id":   r.EntityID,
		"before":      before,
		"after":       after,
		"category":    string(r.Category),
		"client_ip":   r.ClientIP,
		"user_agent":  r.UserAgent,
		"created_at":  r.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}
	return json.Marshal(fields)
}

// normalize decodes raw JSON into generic values so re-encoding sorts nested
// object keys. Numbers stay as their literal text.
func normalize(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Sign returns the hex HMAC-SHA256 of the canonical form of r.
func (s *Signer) Sign(r *domain.Record) (string, error) {
	msg, err := Canonical(r)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether r carries a signature matching its own fields.
func (s *Signer) Verify(r *domain.Record) bool {
	if r.Signature == "" {
		return false
	}
	want, err := s.Sign(r)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(r.Signature))
}
