package validation

import "testing"

func TestIsValidISBN(t *testing.T) {
	tests := []struct {
		name string
		isbn string
		want bool
	}{
		{"valid ISBN-10", "0306406152", true},
		{"valid ISBN-10 with X", "097522980X", true},
		{"valid ISBN-10 with hyphens", "0-306-40615-2", true},
		{"invalid ISBN-10 checksum", "0306406153", false},
		{"valid ISBN-13", "9780306406157", true},
		{"valid ISBN-13 with hyphens", "978-0-306-40615-7", true},
		{"invalid ISBN-13 checksum", "9780306406158", false},
		{"wrong length", "12345", false},
		{"empty", "", false},
		{"letters", "97803064061ab", false},
		{"X not in last position", "030640X152", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidISBN(tt.isbn); got != tt.want {
				t.Fatalf("IsValidISBN(%q) = %v, want %v", tt.isbn, got, tt.want)
			}
		})
	}
}
