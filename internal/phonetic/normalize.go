// Package phonetic turns noisy spoken tokens into comparable forms.
//
// It provides three layers, from cheapest to richest:
//
//   - [Fold]: case- and diacritic-insensitive folding for equality checks.
//   - [Skeleton]: a coarse consonant skeleton built on Double Metaphone with
//     French-oriented pre-folding (silent endings, digraphs, vowel clusters),
//     preserving field-internal separators.
//   - [Matcher]: a ranked candidate matcher combining Double Metaphone code
//     overlap with Jaro-Winkler similarity.
//
// Hyphens, apostrophes, and internal spaces are treated as structure inside a
// single field value ("Jean-Philippe", "N'Djoli", "De la Barrère"), never as
// boundaries between fields. All functions are pure and deterministic.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks after NFD decomposition, so "Gaël"
// folds to "gael" and "Barrère" to "barrere".
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold returns a lowercased, diacritic-stripped form of s for equality
// comparison. Runs of whitespace collapse to a single space; leading and
// trailing whitespace is removed. Hyphens and apostrophes survive untouched.
func Fold(s string) string {
	stripped, _, err := transform.String(foldTransformer, s)
	if err != nil {
		// Transform failures only occur on invalid UTF-8; fall back to the
		// raw input rather than losing the token.
		stripped = s
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

// frenchPrefolds maps spelling clusters that are phonetically equivalent in
// French names onto a single representative before metaphone encoding, so
// that "Renault", "Renaud", and "Reno" share a skeleton.
var frenchPrefolds = []struct{ from, to string }{
	{"eaux", "o"}, {"eau", "o"},
	{"ault", "o"}, {"aud", "o"}, {"aut", "o"}, {"aux", "o"},
	{"au", "o"},
	{"ph", "f"},
	{"ille", "y"},
	{"gn", "ny"},
	{"qu", "k"},
	{"oeu", "e"}, {"oe", "e"},
}

// Skeleton returns a coarse phonetic skeleton of s. Each internal segment
// (split on hyphen, apostrophe, and space) is encoded independently and the
// separators are preserved, so "Jean-Philippe" keeps its compound structure:
//
//	Skeleton("Jean-Philippe") == Skeleton("Jean-Filip") // "JN-FLP"
//
// Double letters collapse and common French silent endings are dropped before
// Double Metaphone encoding.
func Skeleton(s string) string {
	folded := Fold(s)
	if folded == "" {
		return ""
	}

	var b strings.Builder
	seg := strings.Builder{}
	flush := func() {
		if seg.Len() > 0 {
			b.WriteString(encodeSegment(seg.String()))
			seg.Reset()
		}
	}
	for _, r := range folded {
		switch r {
		case '-', '\'', ' ':
			flush()
			b.WriteRune(r)
		default:
			seg.WriteRune(r)
		}
	}
	flush()
	return b.String()
}

// encodeSegment encodes a single separator-free segment.
func encodeSegment(seg string) string {
	seg = collapseDoubles(seg)
	seg = dropSilentEnding(seg)
	for _, p := range frenchPrefolds {
		seg = strings.ReplaceAll(seg, p.from, p.to)
	}
	primary, _ := matchr.DoubleMetaphone(seg)
	if primary == "" {
		return strings.ToUpper(seg)
	}
	return primary
}

// collapseDoubles squeezes runs of the same letter ("Philippe" → "philipe").
func collapseDoubles(s string) string {
	var b strings.Builder
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// silentFinals are consonants that are usually mute at the end of French
// names ("Renault", "Dupont", "Dubois").
const silentFinals = "dtsxz"

// dropSilentEnding removes one trailing silent consonant from segments long
// enough that the ending is unlikely to be the whole phonetic payload.
func dropSilentEnding(s string) string {
	if len(s) < 4 {
		return s
	}
	if strings.ContainsRune(silentFinals, rune(s[len(s)-1])) {
		return s[:len(s)-1]
	}
	return s
}

// HasLetter reports whether s contains at least one Unicode letter after
// folding. Used by structural validation to reject noise-only captures.
func HasLetter(s string) bool {
	for _, r := range Fold(s) {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
