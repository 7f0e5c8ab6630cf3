// Package layout wraps text for the fixed-width character grid of a display.
package layout

import "strings"

// Wrap breaks text into lines of at most max characters. Explicit newlines
// split paragraphs, which are wrapped independently. Long paragraphs break at
// the last space that fits (the space is dropped); a token with no space is
// cut hard at max. Lengths are counted in runes. Wrap is idempotent for a
// given max, and max <= 0 returns text unchanged.
func Wrap(text string, max int) string {
	if text == "" || max <= 0 {
		return text
	}
	paragraphs := strings.Split(text, "\n")
	lines := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		lines = appendWrapped(lines, []rune(p), max)
	}
	return strings.Join(lines, "\n")
}

func appendWrapped(lines []string, rest []rune, max int) []string {
	if len(rest) <= max {
		return append(lines, string(rest))
	}
	for len(rest) > max {
		cut := max
		for cut > 0 && rest[cut] != ' ' {
			cut--
		}
		if cut == 0 {
			lines = append(lines, string(rest[:max]))
			rest = rest[max:]
			continue
		}
		lines = append(lines, string(rest[:cut]))
		rest = rest[cut+1:]
	}
	if len(rest) > 0 {
		lines = append(lines, string(rest))
	}
	return lines
}
