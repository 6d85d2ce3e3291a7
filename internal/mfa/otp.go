// Package mfa implements the device-bound one-time password: code generation
// and verification, device enrollment, login challenges and code delivery.
package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	otpDigits  = 6
	otpModulus = 1_000_000
	// StepSeconds is the length of one OTP time step.
	StepSeconds = 30
	// SecretSize is the size of an enrolled device secret in bytes.
	SecretSize = 20
)

// ErrEmptySalt is returned when an Engine is built without an institute salt.
var ErrEmptySalt = errors.New("mfa: institute salt is required")

// Engine computes device-bound codes. The institute salt is both mixed into the
// message and used as the HMAC key, so codes from one deployment are useless in
// another. Engine is safe for concurrent use.
type Engine struct {
	salt []byte
}

// NewEngine returns an Engine for salt.
func NewEngine(salt []byte) (*Engine, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	return &Engine{salt: append([]byte(nil), salt...)}, nil
}

// Step returns the time step containing t.
func Step(t time.Time) int64 {
	return t.Unix() / StepSeconds
}

// Generate returns the 6-digit code for deviceID and secret at t.
func (e *Engine) Generate(deviceID string, secret []byte, t time.Time) string {
	return e.codeAt(deviceID, secret, Step(t))
}

func (e *Engine) codeAt(deviceID string, secret []byte, step int64) string {
	mac := hmac.New(sha256.New, e.salt)
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(step))
	mac.Write(be[:])
	mac.Write([]byte(deviceID))
	mac.Write(secret)
	mac.Write(e.salt)
	sum := mac.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", otpDigits, bin%otpModulus)
}

// Verify checks code against the steps within window of t. It returns the
// matching step so callers can refuse a replay of the same step. Every
// candidate step is compared so timing does not reveal which one matched.
func (e *Engine) Verify(deviceID string, secret []byte, code string, window int, t time.Time) (int64, bool) {
	if len(code) != otpDigits || window < 0 {
		return 0, false
	}
	now := Step(t)
	var (
		matched int64
		ok      bool
	)
	for d := -int64(window); d <= int64(window); d++ {
		step := now + d
		if subtle.ConstantTimeCompare([]byte(e.codeAt(deviceID, secret, step)), []byte(code)) == 1 && !ok {
			matched, ok = step, true
		}
	}
	return matched, ok
}

// NewSecret returns a fresh random device secret.
func NewSecret() ([]byte, error) {
	b := make([]byte, SecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
