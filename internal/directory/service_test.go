package directory_test

import (
	"testing"

	"nesgem/internal/directory"
)

func TestDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		first    string
		last     string
		email    string
		phone    string
		want     string
	}{
		{"username wins", "ness", "Nes", "Gem", "n@example.com", "+1555", "ness"},
		{"full name fallback", "", "Nes", "Gem", "n@example.com", "+1555", "Nes Gem"},
		{"first name only", "", "Nes", "", "n@example.com", "+1555", "Nes"},
		{"last name only", "", "", "Gem", "n@example.com", "+1555", "Gem"},
		{"email fallback", "", "", "", "n@example.com", "+1555", "n@example.com"},
		{"phone fallback", "", "", "", "", "+1555", "+1555"},
		{"all empty", "", "", "", "", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := directory.DisplayName(tt.username, tt.first, tt.last, tt.email, tt.phone)
			if got != tt.want {
				t.Fatalf("DisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}
