package audit

import (
	"strings"

	"asset-register/backend/internal/audit/domain"
)

// Verb tables are checked in order: authentication, then access control, then
// data modification. The first table with a matching token decides.
var categoryVerbs = []struct {
	category domain.Category
	verbs    []string
}{
	{domain.CategoryAuthentication, []string{"login", "logout", "refresh", "otp", "password", "mfa", "token", "lock"}},
	{domain.CategoryAccessControl, []string{"role", "permission", "revoke", "session", "grant"}},
	{domain.CategoryDataModification, []string{"create", "update", "delete", "add", "remove"}},
}

// InferCategory maps an action name such as "session_revoked" or
// "asset.update" to its category. Unmapped actions are system events.
func InferCategory(action string) domain.Category {
	tokens := actionTokens(action)
	for _, cv := range categoryVerbs {
		for _, tok := range tokens {
			for _, verb := range cv.verbs {
				if strings.HasPrefix(tok, verb) {
					return cv.category
				}
			}
		}
	}
	return domain.CategorySystem
}

// ResolveCategory returns explicit when it is a known category, otherwise the
// inferred one.
func ResolveCategory(explicit domain.Category, action string) domain.Category {
	if explicit.Valid() {
		return explicit
	}
	return InferCategory(action)
}

func actionTokens(action string) []string {
	return strings.FieldsFunc(strings.ToLower(action), func(r rune) bool {
		return r == '_' || r == '.' || r == '-' || r == '/' || r == ':' || r == ' '
	})
}
