package domain

import "time"

// Device is an enrolled OTP device. The secret is only ever held sealed.
type Device struct {
	ID              string
	UserID          string
	Label           string
	SecretEncrypted string
	Active          bool
	// LastUsedStep is the time step of the last accepted code; codes for that
	// step or earlier are refused.
	LastUsedStep int64
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// SealAAD is the additional data binding a sealed secret to its owner and device.
func (d *Device) SealAAD() []byte {
	return []byte(d.UserID + "/" + d.ID)
}
