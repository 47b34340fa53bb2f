package export

import (
	"strings"
	"testing"
)

func TestTitle_ControlChars(t *testing.T) {
	got := Title(" A\nB\rC\tD\x00 ", 100)
	if strings.ContainsAny(got, "\n\r\t\x00") {
		t.Fatalf("Title output contains control chars: %q", got)
	}
	if got != "ABCD" {
		t.Fatalf("Title control char behavior mismatch, got %q", got)
	}
}

func TestTitle_MaxLength(t *testing.T) {
	got := Title("abcdefghijklmnopqrstuvwxyz", 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected length 10, got %d (%q)", len([]rune(got)), got)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"talk-2024_final.v2", "talk-2024_final.v2"},
		{"bad<>|\"name", "bad____name"},
		{"my talk", "my_talk"},
		{"café", "caf_"},
		{"..hidden..", "hidden"},
		{"a\nb", "ab"},
	}
	for _, tt := range tests {
		if got := FileName(tt.in, 100); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
