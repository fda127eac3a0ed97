package config

import "testing"

func TestIsWeakAdminToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		weak  bool
	}{
		{name: "empty_token", token: "", weak: false},
		{name: "common_password", token: "password", weak: true},
		{name: "all_same", token: "aaaaaaaaaaaa", weak: true},
		{name: "simple_sequence", token: "1234567890", weak: true},
		{name: "short_mixed", token: "Ab1!", weak: true},
		{name: "word_plus_year", token: "nexus2026", weak: true},
		{name: "long_hex", token: "7c2e91fa804d5b3cfe6a1209d8b47f53", weak: false},
		{name: "long_random_mixed", token: "kT9#mQv2wXz7Lp4R", weak: false},
		{name: "mixed_strong", token: "Nexus-2026-Admin!Token", weak: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsWeakAdminToken(tt.token)
			if got != tt.weak {
				t.Fatalf("IsWeakAdminToken(%q) = %v, want %v", tt.token, got, tt.weak)
			}
		})
	}
}
