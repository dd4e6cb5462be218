package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize prepares text for comparison: compatibility decomposition, combining
// marks and punctuation removed, lower-cased, whitespace collapsed.
// "Café  Menu!" and "cafe menu" normalize to the same string.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// Transformers carry state, so a fresh chain is built per call.
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				return ' '
			}
			return r
		}),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Lower(language.Und).String(out)
	return strings.Join(strings.Fields(out), " ")
}
