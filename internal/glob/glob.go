// Package glob implements the include/exclude pattern syntax from spec.md
// §4.6: `*` matches within one path segment, `**` matches across segment
// boundaries, `?` matches one non-slash rune, `[abc]` is a literal
// character class, and `{a,b}` is one level of brace alternation. None of
// the pack's pattern-matching libraries (path/filepath.Match, Go's
// stdlib doublestar-less Match) support this exact combination, so this is
// a small hand-rolled matcher in the teacher's filter.go style rather than
// an adopted dependency — see DESIGN.md.
package glob

import "strings"

// Match reports whether path matches pattern under the rules above.
func Match(pattern, path string) bool {
	alts := splitBraces(pattern)
	for _, alt := range alts {
		if matchSegmentless(alt, path) {
			return true
		}
	}

	return false
}

// splitBraces expands one level of {a,b,c} alternation into concrete
// patterns. Patterns without braces return a single-element slice.
func splitBraces(pattern string) []string {
	start := strings.IndexByte(pattern, '{')
	if start < 0 {
		return []string{pattern}
	}

	end := strings.IndexByte(pattern[start:], '}')
	if end < 0 {
		return []string{pattern}
	}

	end += start

	prefix := pattern[:start]
	suffix := pattern[end+1:]
	options := strings.Split(pattern[start+1:end], ",")

	out := make([]string, 0, len(options))
	for _, opt := range options {
		out = append(out, prefix+opt+suffix)
	}

	return out
}

// matchSegmentless matches a brace-free pattern (which may still contain
// *, **, ?, [..]) against path via a small recursive backtracking matcher.
func matchSegmentless(pattern, path string) bool {
	return matchRunes([]rune(pattern), []rune(path))
}

func matchRunes(pat, s []rune) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			if len(pat) > 1 && pat[1] == '*' {
				pat = pat[2:]
				if len(pat) > 0 && pat[0] == '/' {
					pat = pat[1:]
				}

				if len(pat) == 0 {
					return true
				}

				for i := 0; i <= len(s); i++ {
					if matchRunes(pat, s[i:]) {
						return true
					}
				}

				return false
			}

			for i := 0; i <= len(s); i++ {
				if i > 0 && s[i-1] == '/' {
					break
				}

				if matchRunes(pat[1:], s[i:]) {
					return true
				}
			}

			return false

		case '?':
			if len(s) == 0 || s[0] == '/' {
				return false
			}

			pat = pat[1:]
			s = s[1:]

		case '[':
			end := indexRune(pat, ']')
			if end < 0 {
				return matchLiteral(pat, s)
			}

			if len(s) == 0 || !runeInClass(pat[1:end], s[0]) {
				return false
			}

			pat = pat[end+1:]
			s = s[1:]

		default:
			if len(s) == 0 || pat[0] != s[0] {
				return false
			}

			pat = pat[1:]
			s = s[1:]
		}
	}

	return len(s) == 0
}

func matchLiteral(pat, s []rune) bool {
	if len(s) == 0 || pat[0] != s[0] {
		return false
	}

	return matchRunes(pat[1:], s[1:])
}

func indexRune(rs []rune, target rune) int {
	for i, r := range rs {
		if r == target {
			return i
		}
	}

	return -1
}

func runeInClass(class []rune, r rune) bool {
	for _, c := range class {
		if c == r {
			return true
		}
	}

	return false
}
