package domain

import (
	"time"

	devicedomain "asset-register/backend/internal/device/domain"
)

// Challenge is a pending second factor for a login that passed the password
// check. It carries the login's device context so the session can be created
// once the code is verified.
type Challenge struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	OTPDeviceID string            `json:"otp_device_id"`
	Device      devicedomain.Info `json:"device"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Expired reports whether the challenge can no longer be answered at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
