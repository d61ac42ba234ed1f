package utils

import "testing"

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   string
	}{
		{"short text unchanged", "disk full", 20, "disk full"},
		{"newlines flattened", "line one\nline two\r\nline three", 50, "line one line two line three"},
		{"truncated with ellipsis", "CPU above 95% on router-1", 10, "CPU abo..."},
		{"tiny limit", "anything", 2, "..."},
		{"multibyte runes kept whole", "température élevée", 8, "tempé..."},
		{"trimmed", "  padded  ", 20, "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateText(tt.text, tt.maxLen); got != tt.want {
				t.Errorf("TruncateText(%q, %d) = %q, want %q", tt.text, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestEscapeForLogging(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   string
	}{
		{"plain", `{"device_id":"r1"}`, 100, `{"device_id":"r1"}`},
		{"control chars escaped", "a\nb\tc\rd", 100, `a\nb\tc\rd`},
		{"other control chars dropped", "a\x00b\x1bc", 100, "abc"},
		{"capped", "abcdefghij", 4, "abcd..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeForLogging(tt.text, tt.maxLen); got != tt.want {
				t.Errorf("EscapeForLogging(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
