package tgui

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "…"

// TruncRunes clips s to at most n runes, the trailing "…" included.
// Invalid UTF-8 is replaced first; Telegram refuses it.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.ToValidUTF8(s, "�")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - 1
	for i := range s {
		if keep == 0 {
			return s[:i] + ellipsis
		}
		keep--
	}
	return s
}
