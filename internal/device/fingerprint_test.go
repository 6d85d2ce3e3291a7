package device

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"asset-register/backend/internal/device/domain"
)

const (
	chromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"
	iphone    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	ipad      = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	googlebot = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestDescribe(t *testing.T) {
	info := Describe(Request{UserAgent: chromeMac, AcceptLanguage: "en-GB", IP: "10.1.2.3"})
	assert.Equal(t, domain.TypeDesktop, info.Type)
	assert.Equal(t, "Chrome 120", info.Browser)
	assert.Contains(t, info.OS, "Mac OS X")
	assert.Equal(t, "10.1.2.3", info.IP)
	assert.True(t, strings.HasPrefix(info.ID, "fp_"))
	assert.Contains(t, info.Name, "Chrome 120 on")

	assert.Equal(t, domain.TypeMobile, Describe(Request{UserAgent: iphone}).Type)
	assert.Equal(t, domain.TypeTablet, Describe(Request{UserAgent: ipad}).Type)
	assert.Equal(t, domain.TypeBot, Describe(Request{UserAgent: googlebot}).Type)
	assert.Equal(t, domain.TypeUnknown, Describe(Request{}).Type)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(Request{UserAgent: chromeMac, AcceptLanguage: "en-GB"})
	b := Fingerprint(Request{UserAgent: chromeMac, AcceptLanguage: "en-GB"})
	c := Fingerprint(Request{UserAgent: chromeMac, AcceptLanguage: "ta-IN"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	assert.Equal(t, "laptop-7", Fingerprint(Request{ClientDeviceID: " laptop-7 ", UserAgent: chromeMac}))
	assert.Len(t, Fingerprint(Request{ClientDeviceID: strings.Repeat("x", 500)}), maxClientIDLen)

	// Truncation never splits a multi-byte character.
	long := "x" + strings.Repeat("é", 100)
	id := Fingerprint(Request{ClientDeviceID: long})
	assert.True(t, utf8.ValidString(id))
	assert.Len(t, id, maxClientIDLen-1)
	assert.True(t, strings.HasPrefix(long, id))
}

func TestDescribe_ClientName(t *testing.T) {
	info := Describe(Request{ClientName: "Office laptop", ClientDeviceID: "D1"})
	assert.Equal(t, "Office laptop", info.Name)
	assert.Equal(t, "D1", info.ID)
	assert.True(t, info.SameDevice(domain.Info{ID: "D1"}))
	assert.False(t, domain.Info{}.SameDevice(domain.Info{}))
}
