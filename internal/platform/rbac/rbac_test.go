package rbac

import (
	"context"
	"errors"
	"testing"

	"asset-register/backend/internal/apperr"
)

type failingChecker struct{}

func (failingChecker) HasPermission(context.Context, Subject, string) (bool, error) {
	return false, errors.New("grant store down")
}

func TestRequire(t *testing.T) {
	grants := NewStaticGrants().Grant(PermissionAuditRead, "Auditor", " u-42 ", "")
	ctx := context.Background()

	tests := []struct {
		name    string
		checker PermissionChecker
		subject Subject
		want    error
	}{
		{"by username, case-insensitive", grants, Subject{UserID: "u1", Username: "auditor"}, nil},
		{"by id", grants, Subject{UserID: "u-42", Username: "clerk"}, nil},
		{"not granted", grants, Subject{UserID: "u2", Username: "clerk"}, apperr.ErrForbidden},
		{"anonymous", grants, Subject{}, apperr.ErrSessionNotFound},
		{"no checker", nil, Subject{UserID: "u1"}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Require(ctx, tt.checker, tt.subject, PermissionAuditRead)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Require = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRequire_CheckerError(t *testing.T) {
	err := Require(context.Background(), failingChecker{}, Subject{UserID: "u1"}, PermissionAuditRead)
	if err == nil || errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("want lookup error, got %v", err)
	}
}

func TestStaticGrants_OtherPermission(t *testing.T) {
	grants := NewStaticGrants().Grant(PermissionAuditRead, "auditor")
	ok, err := grants.HasPermission(context.Background(), Subject{Username: "auditor"}, "asset:write")
	if err != nil || ok {
		t.Fatalf("HasPermission = %v, %v", ok, err)
	}
}
