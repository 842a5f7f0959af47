package target

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		max      int
		expected string
	}{
		{"short string unchanged", "SQL Injection", 254, "SQL Injection"},
		{"exact length unchanged", "abcdef", 6, "abcdef"},
		{"ascii cut with ellipsis", "abcdefg", 6, "abc..."},
		{"multibyte cut on rune boundary", "日本語のタイトル", 6, "日本語..."},
		{"tiny limit without ellipsis", "abcdef", 2, "ab"},
		{"no limit", "abcdef", 0, "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.in, tt.max))
		})
	}
}

func TestTruncate_LongTitleTo254(t *testing.T) {
	// 3-byte and 4-byte runes straddling the limit.
	title := strings.Repeat("漏", 200) + strings.Repeat("🔒", 100)
	got := Truncate(title, 254)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 254, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, strings.HasPrefix(title, strings.TrimSuffix(got, "...")))
}
