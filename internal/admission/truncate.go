package admission

import (
	"strings"
	"unicode"
)

// Truncate cuts text to at most limit bytes. When the cut lands inside
// a word, it backtracks to the last whitespace boundary in the prefix;
// with no whitespace the cut is hard. A non-positive limit returns the
// empty string.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}

	prefix := text[:limit]
	if i := strings.LastIndexFunc(prefix, unicode.IsSpace); i > 0 {
		return strings.TrimRightFunc(prefix[:i], unicode.IsSpace)
	}
	return prefix
}
