package target

import "unicode/utf8"

const ellipsis = "..."

// Truncate shortens s to at most max runes. When s is cut, the result ends in
// "..." and is exactly max runes long; for max below the ellipsis width the
// runes are cut without one. A max of zero or less leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max
	suffix := ""
	if max > len(ellipsis) {
		keep = max - len(ellipsis)
		suffix = ellipsis
	}

	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + suffix
		}
		n++
	}
	return s + suffix
}
