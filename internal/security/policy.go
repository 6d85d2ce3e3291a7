package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy describes the rules ValidatePassword enforces.
type PasswordPolicy struct {
	MinLength int
	// MinClasses is how many of upper, lower, digit and symbol must appear.
	MinClasses int
	DenyList   []string
}

// DefaultDenyList holds common passwords and keyboard walks, compared case-insensitively as substrings.
var DefaultDenyList = []string{
	"password", "passw0rd", "qwerty", "azerty", "123456", "12345678", "111111",
	"abc123", "asdf", "zxcv", "letmein", "welcome", "admin", "iloveyou",
	"monkey", "dragon", "changeme",
}

// DefaultPasswordPolicy is used when no policy is configured.
var DefaultPasswordPolicy = PasswordPolicy{MinLength: 12, MinClasses: 3, DenyList: DefaultDenyList}

// ValidatePassword returns nil if password satisfies p, otherwise every violated rule joined.
func (p PasswordPolicy) ValidatePassword(password string) error {
	var errs []error
	if n := len([]rune(password)); n < p.MinLength {
		errs = append(errs, fmt.Errorf("must be at least %d characters", p.MinLength))
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < p.MinClasses {
		errs = append(errs, fmt.Errorf("must contain at least %d of: uppercase, lowercase, digit, symbol", p.MinClasses))
	}
	lowered := strings.ToLower(password)
	for _, bad := range p.DenyList {
		if bad != "" && strings.Contains(lowered, bad) {
			errs = append(errs, fmt.Errorf("must not contain common sequence %q", bad))
			break
		}
	}
	return errors.Join(errs...)
}
