// Package device derives device fingerprints and metadata for sessions.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/mssola/user_agent"

	"asset-register/backend/internal/device/domain"
)

const maxClientIDLen = 128

// Request carries what the boundary knows about the caller's device.
type Request struct {
	// ClientDeviceID is an id the client persisted itself; preferred when present.
	ClientDeviceID string
	// ClientName is a user-chosen label ("Office laptop").
	ClientName     string
	UserAgent      string
	AcceptLanguage string
	IP             string
}

// Describe builds the device snapshot. Without a client-supplied id the
// fingerprint is sha256(user agent + accept-language).
func Describe(r Request) domain.Info {
	ua := user_agent.New(r.UserAgent)
	browser, version := ua.Browser()
	if browser != "" && version != "" {
		browser += " " + majorVersion(version)
	}
	info := domain.Info{
		ID:        Fingerprint(r),
		Type:      classify(ua, r.UserAgent),
		Browser:   browser,
		OS:        ua.OS(),
		IP:        r.IP,
		UserAgent: r.UserAgent,
	}
	info.Name = strings.TrimSpace(r.ClientName)
	if info.Name == "" {
		info.Name = defaultName(info)
	}
	return info
}

// Fingerprint returns the device id for r.
func Fingerprint(r Request) string {
	if id := strings.TrimSpace(r.ClientDeviceID); id != "" {
		if len(id) > maxClientIDLen {
			n := maxClientIDLen
			for n > 0 && !utf8.RuneStart(id[n]) {
				n--
			}
			id = id[:n]
		}
		return id
	}
	sum := sha256.Sum256([]byte(r.UserAgent + "|" + r.AcceptLanguage))
	return "fp_" + hex.EncodeToString(sum[:16])
}

func classify(ua *user_agent.UserAgent, raw string) domain.Type {
	lower := strings.ToLower(raw)
	switch {
	case raw == "":
		return domain.TypeUnknown
	case ua.Bot():
		return domain.TypeBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		return domain.TypeTablet
	case ua.Mobile():
		return domain.TypeMobile
	default:
		return domain.TypeDesktop
	}
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i > 0 {
		return v[:i]
	}
	return v
}

func defaultName(i domain.Info) string {
	switch {
	case i.Browser != "" && i.OS != "":
		return i.Browser + " on " + i.OS
	case i.Browser != "":
		return i.Browser
	case i.OS != "":
		return i.OS
	default:
		return "Unknown device"
	}
}
