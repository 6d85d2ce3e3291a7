package audit

import (
	"testing"

	"asset-register/backend/internal/audit/domain"
)

func TestInferCategory(t *testing.T) {
	tests := []struct {
		action string
		want   domain.Category
	}{
		{"login_succeeded", domain.CategoryAuthentication},
		{"login_failed", domain.CategoryAuthentication},
		{"logout", domain.CategoryAuthentication},
		{"token_refreshed", domain.CategoryAuthentication},
		{"refresh_token_reuse", domain.CategoryAuthentication},
		{"otp_enrolled", domain.CategoryAuthentication},
		{"password_changed", domain.CategoryAuthentication},
		{"account_locked", domain.CategoryAuthentication},
		{"session_revoked", domain.CategoryAccessControl},
		{"role.grant", domain.CategoryAccessControl},
		{"permission_removed", domain.CategoryAccessControl},
		{"asset.create", domain.CategoryDataModification},
		{"asset_updated", domain.CategoryDataModification},
		{"Asset-Delete", domain.CategoryDataModification},
		{"session_sweep_completed", domain.CategoryAccessControl},
		{"sweep_completed", domain.CategorySystem},
		{"", domain.CategorySystem},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			if got := InferCategory(tt.action); got != tt.want {
				t.Errorf("InferCategory(%q) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

func TestResolveCategory_ExplicitWins(t *testing.T) {
	if got := ResolveCategory(domain.CategorySystem, "login_succeeded"); got != domain.CategorySystem {
		t.Errorf("explicit category ignored: %q", got)
	}
	if got := ResolveCategory("bogus", "asset.update"); got != domain.CategoryDataModification {
		t.Errorf("unknown explicit category should fall back to inference: %q", got)
	}
}
