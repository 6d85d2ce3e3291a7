package domain

import (
	"testing"
	"time"
)

func TestUser_IsLocked(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	u := &User{LockedUntil: &until}
	if !u.IsLocked(now) {
		t.Error("want locked before until")
	}
	if u.IsLocked(until) {
		t.Error("lock lifts at until")
	}
	if (&User{}).IsLocked(now) {
		t.Error("nil LockedUntil is never locked")
	}
}

func TestUser_Validate(t *testing.T) {
	u := &User{Username: "alice", PasswordHash: "$argon2id$..."}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if u.Status != UserStatusActive {
		t.Errorf("default status = %q", u.Status)
	}
	if err := (&User{PasswordHash: "x"}).Validate(); err == nil {
		t.Error("missing username should fail")
	}
}
