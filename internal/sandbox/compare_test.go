package sandbox

import "testing"

func TestExactMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"identical", "42\n", "42\n", true},
		{"missing trailing newline", "42\n", "42", true},
		{"crlf output", "42\n", "42\r\n", true},
		{"interior whitespace differs", "4 2", "42", false},
		{"different value", "42\n", "43\n", false},
		{"empty both", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExactMatch(tt.expected, tt.actual); got != tt.want {
				t.Errorf("ExactMatch(%q, %q) = %t, want %t", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}

func TestTokenMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"identical", "1 2 3", "1 2 3", true},
		{"extra spacing", "1 2 3", "1   2\t3\n", true},
		{"different token order", "1 2 3", "3 2 1", false},
		{"missing token", "1 2 3", "1 2", false},
		{"extra token", "1 2", "1 2 3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenMatch(tt.expected, tt.actual); got != tt.want {
				t.Errorf("TokenMatch(%q, %q) = %t, want %t", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}
