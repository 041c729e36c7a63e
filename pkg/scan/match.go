package scan

import "strings"

// matchPattern reports whether s matches an IAM-style pattern: '*' matches
// any sequence, '?' a single character, comparison is case-insensitive.
func matchPattern(pattern, s string) bool {
	return matchFold(strings.ToLower(pattern), strings.ToLower(s))
}

// matchFold is a linear-scan glob matcher with single-star backtracking.
func matchFold(pattern, s string) bool {
	var pi, si int
	star, mark := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// hasWildcard reports whether a matcher entry contains glob metacharacters.
func hasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}
