package layout

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wrapSamples = []string{
	"",
	"short",
	"hello world this is a longer line that needs wrapping for sure",
	"first paragraph\nsecond paragraph that is definitely long enough to wrap twice over here",
	"supercalifragilisticexpialidocious-and-then-some-more-characters-without-spaces",
	"mixed withaverylongtokenthatcannotfitonasinglelineatall and then words",
	"trailing space at the very end of a long line that is going to wrap ",
	"  leading spaces then a sentence that is long enough to need wrapping",
	"héllo wörld ünïcode text that should wrap by character and not by byte count",
	"a\n\nb\n",
}

func TestWrapLinesFitBudget(t *testing.T) {
	for _, max := range []int{1, 5, 10, 35, 45, 55} {
		for _, text := range wrapSamples {
			for _, line := range strings.Split(Wrap(text, max), "\n") {
				assert.LessOrEqual(t, utf8.RuneCountInString(line), max, "max=%d text=%q line=%q", max, text, line)
			}
		}
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	for _, max := range []int{3, 10, 45} {
		for _, text := range wrapSamples {
			once := Wrap(text, max)
			assert.Equal(t, once, Wrap(once, max), "max=%d text=%q", max, text)
		}
	}
}

// reassemble walks paragraph along the wrapped lines: each line must appear
// verbatim at the current position, and a break may consume exactly one space.
func reassemble(t *testing.T, paragraph string, lines []string) {
	t.Helper()
	rest := paragraph
	for i, line := range lines {
		require.True(t, strings.HasPrefix(rest, line), "line %d %q does not continue %q", i, line, rest)
		rest = rest[len(line):]
		if i < len(lines)-1 {
			require.NotEmpty(t, rest, "line %d %q ends the paragraph early", i, line)
		}
		rest = strings.TrimPrefix(rest, " ")
	}
	assert.Empty(t, rest, "paragraph %q not fully covered", paragraph)
}

func TestWrapOnlyRemovesSpacesAtBreaks(t *testing.T) {
	for _, max := range []int{4, 10, 45} {
		for _, text := range wrapSamples {
			paragraphs := strings.Split(text, "\n")
			wrapped := make([]string, 0, len(paragraphs))
			for _, p := range paragraphs {
				w := Wrap(p, max)
				wrapped = append(wrapped, w)
				reassemble(t, p, strings.Split(w, "\n"))
			}
			assert.Equal(t, strings.Join(wrapped, "\n"), Wrap(text, max), "max=%d text=%q", max, text)
		}
	}
}

func TestWrapKeepsInnerSpaces(t *testing.T) {
	got := Wrap("ab  cd  efgh", 8)
	assert.Equal(t, "ab  cd \nefgh", got)
}

func TestWrapBreaksAtSpaces(t *testing.T) {
	got := Wrap("hello world this is a longer line that needs wrapping for sure", 45)
	assert.Equal(t, "hello world this is a longer line that needs\nwrapping for sure", got)
}

func TestWrapHardBreaksLongToken(t *testing.T) {
	got := Wrap("abcdefghij", 4)
	assert.Equal(t, "abcd\nefgh\nij", got)
}

func TestWrapKeepsShortParagraphs(t *testing.T) {
	assert.Equal(t, "one\ntwo", Wrap("one\ntwo", 45))
	assert.Equal(t, "", Wrap("", 45))
	assert.Equal(t, "unchanged", Wrap("unchanged", 0))
}

func TestWrapCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 10)
	got := Wrap(text, 5)
	require.Equal(t, strings.Repeat("é", 5)+"\n"+strings.Repeat("é", 5), got)
}

func TestSizeClassBudgets(t *testing.T) {
	b := DefaultBudgets
	require.NoError(t, b.Validate())

	assert.Equal(t, 55, b.For(ParseSizeClass("small")))
	assert.Equal(t, 45, b.For(ParseSizeClass("")))
	assert.Equal(t, 45, b.For(ParseSizeClass("huge")))
	assert.Equal(t, 35, b.For(ParseSizeClass(" LARGE ")))

	assert.Error(t, Budgets{Small: 40, Medium: 40, Large: 30}.Validate())
	assert.Error(t, Budgets{Small: 0, Medium: 40, Large: 30}.Validate())
}
