package domain

// Type is the coarse device class derived from the user agent.
type Type string

const (
	TypeDesktop Type = "desktop"
	TypeMobile  Type = "mobile"
	TypeTablet  Type = "tablet"
	TypeBot     Type = "bot"
	TypeUnknown Type = "unknown"
)

// Info is the device snapshot stored on sessions and refresh tokens. ID is the
// fingerprint used for same-device checks.
type Info struct {
	ID        string
	Name      string
	Type      Type
	Browser   string
	OS        string
	IP        string
	UserAgent string
}

// SameDevice reports whether two snapshots identify the same device.
func (i Info) SameDevice(other Info) bool {
	return i.ID != "" && i.ID == other.ID
}
