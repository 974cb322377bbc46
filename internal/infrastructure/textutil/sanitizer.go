// Package textutil canonicalizes text before it is stored, stripping markup
// and emoji and normalizing whitespace so identical content always lands on
// the same stored string.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	htmlTagPattern     = regexp.MustCompile(`<[^>]*>`)
	markdownBoldItalic = regexp.MustCompile(`[*_~` + "`" + `]{1,3}`)
	multiSpacePattern  = regexp.MustCompile(`[ \t]{2,}`)
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
)

// Sanitizer canonicalizes stored turn and memory content. It is stateless
// and safe for concurrent use.
type Sanitizer struct{}

// NewSanitizer creates a Sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize strips HTML tags, markdown emphasis markers, and emoji, then
// collapses repeated whitespace. It is idempotent: Sanitize(Sanitize(x)) ==
// Sanitize(x).
func (s *Sanitizer) Sanitize(text string) string {
	out := htmlTagPattern.ReplaceAllString(text, "")
	out = markdownBoldItalic.ReplaceAllString(out, "")
	out = stripEmoji(out)
	out = multiSpacePattern.ReplaceAllString(out, " ")
	out = multiNewlinePattern.ReplaceAllString(out, "\n\n")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out = strings.Join(lines, "\n")

	return strings.TrimSpace(out)
}

// stripEmoji removes runes in the common emoji/pictograph/symbol blocks
// while leaving ordinary punctuation and non-Latin scripts untouched.
func stripEmoji(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // misc symbols, pictographs, supplemental symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r >= 0x2190 && r <= 0x21FF && unicode.Is(unicode.So, r): // arrows used as symbols
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, zero-width joiner
		return true
	default:
		return false
	}
}
