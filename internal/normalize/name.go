package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into base + combining mark under NFD
var latinFolds = map[rune]string{
	'ß': "ss",
	'æ': "ae",
	'œ': "oe",
	'ø': "o",
	'ł': "l",
	'đ': "d",
	'ð': "d",
	'þ': "th",
	'ı': "i",
}

// Name canonicalises a person name for comparison: lower case, Latin
// diacritics folded (é -> e, ç -> c, ü -> u), anything that is not an ASCII
// letter or whitespace dropped, whitespace collapsed and trimmed.
func Name(raw string) string {
	if raw == "" {
		return ""
	}

	lowered := strings.ToLower(raw)

	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripper, lowered)
	if err != nil {
		folded = lowered
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			if repl, ok := latinFolds[r]; ok {
				b.WriteString(repl)
			}
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// FullName joins first and last name the way collaborator names are displayed
func FullName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
