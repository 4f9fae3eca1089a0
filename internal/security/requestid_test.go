package security

import (
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateRequestID()
		if err != nil {
			t.Fatalf("GenerateRequestID() error = %v", err)
		}
		if len(id) != 24 {
			t.Errorf("Expected 24 hex characters, got %d", len(id))
		}
		if !ValidRequestID(id) {
			t.Errorf("Generated ID %q does not validate", id)
		}
		if seen[id] {
			t.Errorf("Duplicate request ID %q", id)
		}
		seen[id] = true
	}
}

func TestValidRequestID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc12345", true},
		{"req_2024-01-01", true},
		{strings.Repeat("a", 64), true},
		{"short", false},
		{strings.Repeat("a", 65), false},
		{"has space 123", false},
		{"<script>alert(1)</script>", false},
		{"line\nbreak123", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidRequestID(tt.id); got != tt.want {
			t.Errorf("ValidRequestID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
