package mfa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"
	"time"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine([]byte("institute-salt"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// referenceCode recomputes a code by hand: HMAC-SHA256 keyed by the salt over
// be64(step) || device || secret || salt, dynamic truncation, six digits.
func referenceCode(salt []byte, device string, secret []byte, step int64) string {
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, uint64(step))
	msg = append(msg, device...)
	msg = append(msg, secret...)
	msg = append(msg, salt...)
	m := hmac.New(sha256.New, salt)
	m.Write(msg)
	h := m.Sum(nil)
	o := int(h[31] & 0xf)
	v := (uint32(h[o])&0x7f)<<24 | uint32(h[o+1])<<16 | uint32(h[o+2])<<8 | uint32(h[o+3])
	return fmt.Sprintf("%06d", v%1000000)
}

func TestEngine_GenerateIsDeterministic(t *testing.T) {
	e := testEngine(t)
	secret := []byte("12345678901234567890")
	at := time.Unix(1_700_000_000, 0)

	code := e.Generate("D1", secret, at)
	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("code %q contains non-digit", code)
		}
	}
	if again := e.Generate("D1", secret, at); again != code {
		t.Errorf("Generate not reproducible: %q vs %q", code, again)
	}
	if want := referenceCode([]byte("institute-salt"), "D1", secret, 1_700_000_000/30); code != want {
		t.Errorf("Generate = %q, reference = %q", code, want)
	}
	// Same 30s step, same code.
	if e.Generate("D1", secret, at.Add(-20*time.Second)) != code {
		t.Error("codes within one step should match")
	}
}

func TestEngine_BoundToDeviceAndSalt(t *testing.T) {
	e := testEngine(t)
	other, _ := NewEngine([]byte("another-institute"))
	secret := []byte("12345678901234567890")
	at := time.Unix(1_700_000_000, 0)

	// Over many steps a collision is possible but not on every one.
	diffDevice, diffSalt := 0, 0
	for i := 0; i < 20; i++ {
		ts := at.Add(time.Duration(i*StepSeconds) * time.Second)
		if e.Generate("D1", secret, ts) != e.Generate("D2", secret, ts) {
			diffDevice++
		}
		if e.Generate("D1", secret, ts) != other.Generate("D1", secret, ts) {
			diffSalt++
		}
	}
	if diffDevice < 15 || diffSalt < 15 {
		t.Errorf("codes not bound to device/salt: %d %d of 20 differ", diffDevice, diffSalt)
	}
}

func TestEngine_VerifyWindow(t *testing.T) {
	e := testEngine(t)
	secret := []byte("12345678901234567890")
	at := time.Unix(1_700_000_010, 0)
	code := e.Generate("D1", secret, at)

	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{30 * time.Second, true},
		{-30 * time.Second, true},
		{90 * time.Second, false},
		{-90 * time.Second, false},
		{10 * time.Minute, false},
	}
	for _, tt := range tests {
		step, ok := e.Verify("D1", secret, code, 1, at.Add(tt.offset))
		if ok != tt.want {
			t.Errorf("offset %v: ok = %v, want %v", tt.offset, ok, tt.want)
		}
		if ok && step != Step(at) {
			t.Errorf("offset %v: matched step %d, want %d", tt.offset, step, Step(at))
		}
	}
	if _, ok := e.Verify("D2", secret, code, 1, at); ok {
		t.Error("code verified for another device")
	}
	if _, ok := e.Verify("D1", secret, "12345", 1, at); ok {
		t.Error("short code accepted")
	}
}

func TestNewEngine_RequiresSalt(t *testing.T) {
	if _, err := NewEngine(nil); err != ErrEmptySalt {
		t.Errorf("want ErrEmptySalt, got %v", err)
	}
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	b, _ := NewSecret()
	if len(a) != SecretSize || string(a) == string(b) {
		t.Errorf("secrets: len=%d equal=%v", len(a), string(a) == string(b))
	}
}
