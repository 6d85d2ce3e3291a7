package security

import (
	"strings"
	"testing"
)

func TestPasswordPolicy_ValidatePassword(t *testing.T) {
	p := DefaultPasswordPolicy
	tests := []struct {
		name    string
		pw      string
		wantErr string
	}{
		{"valid", "Tr1cky-Harbour", ""},
		{"valid three classes", "harbourlights99!", ""},
		{"too short", "Ab1!x", "at least 12"},
		{"two classes", "onlylowercaseletters", "at least 3 of"},
		{"deny list", "MyPassword#2024", "common sequence"},
		{"keyboard walk", "Qwerty-Lane-81", "common sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidatePassword(tt.pw)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("want nil, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPasswordPolicy_ReportsAllViolations(t *testing.T) {
	err := DefaultPasswordPolicy.ValidatePassword("admin")
	if err == nil {
		t.Fatal("want error")
	}
	msg := err.Error()
	for _, part := range []string{"at least 12", "at least 3 of", "common sequence"} {
		if !strings.Contains(msg, part) {
			t.Errorf("missing %q in %q", part, msg)
		}
	}
}
