package repository

import (
	"context"
	"errors"
	"time"

	"asset-register/backend/internal/mfa/domain"
)

// ErrDeviceExists is returned by Create when the user already has a device with that id.
var ErrDeviceExists = errors.New("otp device already enrolled")

// DeviceRepository defines persistence for OTP devices.
type DeviceRepository interface {
	Create(ctx context.Context, d *domain.Device) error
	// Get returns the device, active or not, or nil if not found.
	Get(ctx context.Context, userID, id string) (*domain.Device, error)
	// LatestActive returns the most recently enrolled active device of userID, or nil.
	LatestActive(ctx context.Context, userID string) (*domain.Device, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	Deactivate(ctx context.Context, userID, id string) (bool, error)
	// MarkUsed records an accepted code at step. It reports false when the
	// device is inactive or a code for step or a later one was already accepted.
	MarkUsed(ctx context.Context, userID, id string, step int64, at time.Time) (bool, error)
}

// ErrChallengeNotFound is returned when a challenge is missing, expired or consumed.
var ErrChallengeNotFound = errors.New("mfa challenge not found")

// ChallengeStore holds pending login challenges until they expire.
type ChallengeStore interface {
	Put(ctx context.Context, c *domain.Challenge) error
	Get(ctx context.Context, id string) (*domain.Challenge, error)
	// IncrAttempts counts one verification attempt and returns the total.
	IncrAttempts(ctx context.Context, id string) (int, error)
	// Consume deletes the challenge; it reports false if it was already gone.
	Consume(ctx context.Context, id string) (bool, error)
}
