package asr

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a transcript for downstream matching: NFKC
// normalization, lowercase, and collapsed whitespace. The original text is
// kept verbatim elsewhere; this form exists for keyword and location lookups.
func Normalize(text string) string {
	s := norm.NFKC.String(text)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalLanguage parses a caller-supplied language hint into a BCP 47 tag
// string. Unparseable hints are dropped rather than passed through, so the
// transcription service never sees garbage.
func CanonicalLanguage(hint string) string {
	if strings.TrimSpace(hint) == "" {
		return ""
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return ""
	}
	return tag.String()
}
