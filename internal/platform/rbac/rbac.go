// Package rbac answers permission questions for the trust layer. Permission
// grants are managed by the asset register itself; this service only consumes
// them through PermissionChecker.
package rbac

import (
	"context"
	"strings"

	"asset-register/backend/internal/apperr"
)

// PermissionAuditRead allows listing and verifying audit records.
const PermissionAuditRead = "audit:read"

// Subject is the caller a permission is checked for.
type Subject struct {
	UserID   string
	Username string
}

// PermissionChecker reports whether subject holds permission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, subject Subject, permission string) (bool, error)
}

// StaticGrants grants permissions to fixed users, matched by id or username.
type StaticGrants struct {
	grants map[string]map[string]bool
}

// NewStaticGrants returns an empty grant set.
func NewStaticGrants() *StaticGrants {
	return &StaticGrants{grants: make(map[string]map[string]bool)}
}

// Grant gives permission to each of users (ids or usernames). Blank entries are ignored.
func (g *StaticGrants) Grant(permission string, users ...string) *StaticGrants {
	for _, u := range users {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if g.grants[u] == nil {
			g.grants[u] = make(map[string]bool)
		}
		g.grants[u][permission] = true
	}
	return g
}

func (g *StaticGrants) HasPermission(_ context.Context, s Subject, permission string) (bool, error) {
	for _, key := range []string{s.UserID, s.Username} {
		if key != "" && g.grants[strings.ToLower(key)][permission] {
			return true, nil
		}
	}
	return false, nil
}

// Require returns apperr.ErrSessionNotFound for an anonymous subject,
// apperr.ErrForbidden when the permission is missing, and the checker's error
// if the lookup fails.
func Require(ctx context.Context, checker PermissionChecker, s Subject, permission string) error {
	if s.UserID == "" {
		return apperr.ErrSessionNotFound
	}
	if checker == nil {
		return apperr.ErrForbidden
	}
	ok, err := checker.HasPermission(ctx, s, permission)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	return nil
}
