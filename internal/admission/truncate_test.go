package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"under limit unchanged", "short text", 100, "short text"},
		{"exact limit unchanged", "abcde", 5, "abcde"},
		{"backtracks to whitespace", "the quick brown fox", 12, "the quick"},
		{"no whitespace hard cut", "abcdefghij", 4, "abcd"},
		{"leading word only", "hello world", 8, "hello"},
		{"zero limit", "anything", 0, ""},
		{"negative limit", "anything", -1, ""},
		{"empty text", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.text, tt.limit))
		})
	}
}
