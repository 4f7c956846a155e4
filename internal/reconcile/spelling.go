package reconcile

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vocaline/intake/internal/phonetic"
)

// accentMarkers maps spoken accent descriptions to the accent they apply to
// the most recent vowel. Both French and English marker phrases are
// recognised because transcription language drifts mid-call.
var accentMarkers = map[string]accentKind{
	"aigu":        accentAcute,
	"grave":       accentGrave,
	"circonflexe": accentCircumflex,
	"circumflex":  accentCircumflex,
	"trema":       accentDiaeresis,
	"tréma":       accentDiaeresis,
	"diaeresis":   accentDiaeresis,
	"umlaut":      accentDiaeresis,
	"cedille":     accentCedilla,
	"cédille":     accentCedilla,
	"cedilla":     accentCedilla,
	"tilde":       accentTilde,
}

type accentKind int

const (
	accentAcute accentKind = iota
	accentGrave
	accentCircumflex
	accentDiaeresis
	accentCedilla
	accentTilde
)

// accentTable maps (base letter, accent) to the accented rune.
var accentTable = map[accentKind]map[rune]rune{
	accentAcute:      {'e': 'é'},
	accentGrave:      {'a': 'à', 'e': 'è', 'u': 'ù'},
	accentCircumflex: {'a': 'â', 'e': 'ê', 'i': 'î', 'o': 'ô', 'u': 'û'},
	accentDiaeresis:  {'e': 'ë', 'i': 'ï', 'o': 'ö', 'u': 'ü'},
	accentCedilla:    {'c': 'ç'},
	accentTilde:      {'n': 'ñ'},
}

// separatorWords maps spoken separator names to the character they stand for.
var separatorWords = map[string]rune{
	"tiret":      '-',
	"hyphen":     '-',
	"dash":       '-',
	"apostrophe": '\'',
	"espace":     ' ',
	"space":      ' ',
}

// fillerWords are tokens ignored inside a spelling sequence ("G comme Gaston,
// A, E, L, with circumflex").
var fillerWords = map[string]bool{
	"in": true, "for": true,
	"with": true, "avec": true, "accent": true, "un": true, "une": true,
	"et": true, "and": true, "puis": true, "then": true,
}

// exampleIntroducers announce a phonetic-alphabet example word that should be
// skipped, not spelled ("G comme Gaston", "B as in Bravo").
var exampleIntroducers = map[string]bool{
	"comme": true, "as": true, "like": true,
}

// doubleWords announce a doubled next letter ("deux L" → "LL").
var doubleWords = map[string]bool{
	"deux": true, "double": true,
}

// ParseSpelled attempts to interpret text as an explicit letter-by-letter
// spelling ("G-A-E-L", "G comme Gaston A E L", "B, O, deux T, E"). It returns
// the assembled word and true when the utterance is a spelling, or ("",
// false) when it reads like ordinary speech.
//
// Accent markers apply to the most recent vowel; "deux"/"double" doubles the
// next letter; "tiret"/"apostrophe"/"espace" insert structure characters.
// A single bare letter is not treated as a spelling — at least two letters
// must be recognised, and unrecognised words beyond the known fillers
// disqualify the whole utterance.
func ParseSpelled(text string) (string, bool) {
	tokens := splitSpellingTokens(text)
	if len(tokens) < 2 {
		return "", false
	}

	var out []rune
	letters := 0
	pendingDouble := false
	skipExample := false

	for _, tok := range tokens {
		folded := phonetic.Fold(tok)
		switch {
		case folded == "":
			continue
		case isSingleLetter(folded):
			r := []rune(folded)[0]
			if pendingDouble {
				out = append(out, r, r)
				letters += 2
				pendingDouble = false
			} else {
				out = append(out, r)
				letters++
			}
			skipExample = false
		case exampleIntroducers[folded]:
			skipExample = true
		case doubleWords[folded]:
			pendingDouble = true
		case fillerWords[folded]:
			continue
		default:
			if r, ok := separatorWords[folded]; ok {
				out = append(out, r)
				continue
			}
			if kind, ok := accentMarkers[folded]; ok {
				applyAccent(out, kind)
				continue
			}
			if skipExample {
				// "G comme Gaston": Gaston is an example, not a letter.
				skipExample = false
				continue
			}
			// An ordinary word: this is speech, not spelling.
			return "", false
		}
	}

	if letters < 2 {
		return "", false
	}
	return capitalizeSpelled(string(out)), true
}

// splitSpellingTokens splits on whitespace, commas, periods, and hyphens —
// all common ways STT renders a spelled sequence.
func splitSpellingTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '-' || r == '\t'
	})
}

func isSingleLetter(s string) bool {
	if utf8.RuneCountInString(s) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r)
}

// applyAccent rewrites the most recent vowel in out according to kind.
// Cedilla and tilde target consonants instead.
func applyAccent(out []rune, kind accentKind) {
	table := accentTable[kind]
	for i := len(out) - 1; i >= 0; i-- {
		if accented, ok := table[out[i]]; ok {
			out[i] = accented
			return
		}
	}
}

// capitalizeSpelled uppercases the first letter and every letter following a
// separator, matching how names are written ("jean-philippe" → "Jean-Philippe").
func capitalizeSpelled(s string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range s {
		if upperNext && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
		if r == '-' || r == '\'' || r == ' ' {
			upperNext = true
		}
	}
	return b.String()
}

// Readback produces the spoken letter-by-letter verification string for a
// name: confusing consonants get phonetic-alphabet help ("B comme Berthe"),
// accented letters are named ("é, e accent aigu"), separators are spoken
// ("tiret"), and plain letters are just spelled.
func (lx *Lexicon) Readback(name string) string {
	var parts []string
	for _, r := range name {
		switch r {
		case '-':
			parts = append(parts, "tiret")
		case '\'':
			parts = append(parts, "apostrophe")
		case ' ':
			parts = append(parts, "espace")
		default:
			upper := string(unicode.ToUpper(r))
			if word, ok := lx.PhoneticAlphabet[upper]; ok {
				if lx.ConfusingLetters[upper] {
					parts = append(parts, upper+" comme "+word)
				} else {
					parts = append(parts, upper)
				}
				continue
			}
			if desc, ok := accentName(r); ok {
				parts = append(parts, string(r)+" ("+desc+")")
				continue
			}
			if unicode.IsLetter(r) {
				parts = append(parts, upper)
			}
		}
	}
	return strings.Join(parts, ", ")
}

// accentNames spells out accented characters for readback.
var accentNames = map[rune]string{
	'à': "a accent grave", 'â': "a accent circonflexe", 'ä': "a tréma",
	'é': "e accent aigu", 'è': "e accent grave", 'ê': "e accent circonflexe", 'ë': "e tréma",
	'î': "i accent circonflexe", 'ï': "i tréma",
	'ô': "o accent circonflexe", 'ö': "o tréma",
	'ù': "u accent grave", 'û': "u accent circonflexe", 'ü': "u tréma",
	'ç': "c cédille", 'ñ': "n tilde",
}

func accentName(r rune) (string, bool) {
	desc, ok := accentNames[unicode.ToLower(r)]
	return desc, ok
}
