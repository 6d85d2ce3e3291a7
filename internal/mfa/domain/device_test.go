package domain

import (
	"testing"
	"time"
)

func TestDevice_SealAAD(t *testing.T) {
	a := &Device{ID: "D1", UserID: "u1"}
	b := &Device{ID: "D1", UserID: "u2"}
	if string(a.SealAAD()) == string(b.SealAAD()) {
		t.Error("AAD must differ per owner")
	}
}

func TestChallenge_Expired(t *testing.T) {
	now := time.Now()
	c := &Challenge{ExpiresAt: now}
	if !c.Expired(now) {
		t.Error("challenge at its expiry instant is expired")
	}
	if c.Expired(now.Add(-time.Second)) {
		t.Error("challenge before expiry is live")
	}
}
