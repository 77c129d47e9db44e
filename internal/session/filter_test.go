package session

import "testing"

func TestIsGarbage(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"hello world", false},
		{"", false},
		{"ok", false},
		{"aaa", false}, // short texts are never filtered
		{"aaaa", true},
		{"hmmmm right", true},
		{"a a a a", true},          // single distinct character
		{"la la la la", true},      // repeated token run
		{"no no yes no no", false}, // runs of two are fine
		{"так так так", true},      // non-ASCII token run
		{"ввввід", true},
		{"the cat sat on the mat", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := IsGarbage(tt.text); got != tt.want {
				t.Errorf("IsGarbage(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
