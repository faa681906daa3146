package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"# heading", " heading"},
		{"`code` ~tilde~ (paren) - dash", "code tilde paren  dash"},
		{`back\slash`, "backslash"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Clean(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, ContainsForbidden(got))
			assert.Equal(t, got, Clean(got), "Clean must be idempotent")
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What Is 2+2?", "what is 2+2"},
		{"  Hello   there!  ", "hello there"},
		{"who-created (you)", "whocreated you"},
		{"?!.", ""},
		{"end. ? !", "end"},
		{"Capital of France", "capital of france"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got), "Normalize must be idempotent")
		})
	}
}
