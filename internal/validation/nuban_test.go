package validation

import "testing"

func TestIsValidAccountNumber(t *testing.T) {
	tests := []struct {
		name     string
		bankCode string
		number   string
		want     bool
	}{
		{"valid access bank", "044", "0690000049", true},
		{"valid gtb", "058", "0000000018", true},
		{"wrong check digit", "044", "0690000041", false},
		{"too short", "044", "069000004", false},
		{"too long", "044", "06900000491", false},
		{"non-digit in number", "044", "06900000ab", false},
		{"bad bank code length", "44", "0690000049", false},
		{"non-digit bank code", "04x", "0690000049", false},
		{"empty", "044", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAccountNumber(tt.bankCode, tt.number); got != tt.want {
				t.Errorf("IsValidAccountNumber(%q, %q) = %v, want %v", tt.bankCode, tt.number, got, tt.want)
			}
		})
	}
}
