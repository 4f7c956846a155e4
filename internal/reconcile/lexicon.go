package reconcile

import (
	"strings"

	"github.com/vocaline/intake/internal/phonetic"
)

// Lexicon bundles the language-specific knowledge the engine needs: the
// phonetic alphabet for readback, letters that need phonetic clarification,
// known transcription corrections, and common words that STT tends to
// substitute for similar-sounding name parts.
//
// A Lexicon is read-only after construction and safe for concurrent use.
type Lexicon struct {
	// PhoneticAlphabet maps an uppercase letter to its spelling word
	// ("B" → "Berthe", read back as "B comme Berthe").
	PhoneticAlphabet map[string]string

	// ConfusingLetters lists letters that sound alike over the phone and are
	// always read back with their phonetic-alphabet word.
	ConfusingLetters map[string]bool

	// corrections maps a folded misspelling to its canonical form
	// ("filip" → "Philippe").
	corrections map[string]string

	// commonWords are everyday words STT substitutes for name fragments
	// ("barrière" heard inside "De la Barrère"). Folded forms.
	commonWords map[string]bool
}

// frenchPhoneticAlphabet is the French spelling alphabet (NATO-adapted).
var frenchPhoneticAlphabet = map[string]string{
	"A": "Anatole", "B": "Berthe", "C": "Célestin", "D": "Désiré",
	"E": "Eugène", "F": "François", "G": "Gaston", "H": "Henri",
	"I": "Irma", "J": "Joseph", "K": "Kléber", "L": "Louis",
	"M": "Marcel", "N": "Nicolas", "O": "Oscar", "P": "Pierre",
	"Q": "Quintal", "R": "Raoul", "S": "Suzanne", "T": "Thérèse",
	"U": "Ursule", "V": "Victor", "W": "William", "X": "Xavier",
	"Y": "Yvonne", "Z": "Zoé",
}

// frenchConfusingLetters are the letter pairs that blur over the phone
// (B/D, M/N, P/B, T/D, F/S, V/B, G/J, C/S, K/Q).
var frenchConfusingLetters = map[string]bool{
	"B": true, "C": true, "D": true, "F": true, "G": true, "J": true,
	"K": true, "M": true, "N": true, "P": true, "Q": true, "S": true,
	"T": true, "V": true,
}

// knownCorrections lists canonical spellings with the misspellings STT
// commonly produces for them. Covers double letters, hyphenated names,
// accents, silent letters, and foreign-origin names. Entries must be
// transcription artifacts only: a variant that is itself a legitimate name
// ("Gaëlle", "Renaud") must not appear here, or a correctly heard name would
// be silently rewritten into its neighbour.
var knownCorrections = map[string][]string{
	"Anne":        {"Ann", "Ane", "An"},
	"Philippe":    {"Philip", "Philipe", "Phillipe", "Filip"},
	"Guillaume":   {"Guilaume", "Gillaume", "Giyom"},
	"Emmanuel":    {"Emanuel", "Imanuel"},
	"Isabelle":    {"Isabel", "Izabelle", "Izabel"},
	"Jean-Pierre": {"Jeanpierre", "Jean Pierre"},
	"Marie-Claire": {"Marieclaire", "Marie Claire"},
	"Anne-Sophie": {"Annesophie", "Anne Sophie"},
	"Gaël":        {"Gael", "Gal"},
	"Noël":        {"Noel"},
	"Zoé":         {"Zoe", "Zoey"},
	"Anaïs":       {"Anais", "Anaiss"},
	"Joël":        {"Joel"},
	"Renault":     {"Reno", "Renauld"},
	"Lefebvre":    {"Lefevre", "Lefèbvre", "Lefebre"},
	"Nguyen":      {"Nuen", "Ngoyen", "Nguien", "Ngyen"},
	"Pham":        {"Fam", "Pam", "Phame"},
	"N'Djoli":     {"Ndjoli", "N Djoli", "Indjoli"},
	"D'Haene":     {"Dhaene", "D Haene", "Dene"},
	"Tchatchouang": {"Tchatchoang", "Tchatchuang", "Chatchouang"},
}

// defaultCommonWords are everyday words that collide with French name parts.
var defaultCommonWords = []string{
	"barriere", "barrière", "mot", "mao", "noel", "pierre", "rose",
	"boulanger", "leblanc", "petit", "grand", "bois", "pont", "champ",
}

// NewFrenchLexicon builds the default French lexicon used when the
// configuration does not supply overrides.
func NewFrenchLexicon() *Lexicon {
	return NewLexicon(knownCorrections, defaultCommonWords)
}

// NewLexicon builds a Lexicon from a corrections table (canonical →
// misspellings) and a common-word list. Lookup keys are folded, so callers
// may pass accented or mixed-case entries.
func NewLexicon(corrections map[string][]string, commonWords []string) *Lexicon {
	lx := &Lexicon{
		PhoneticAlphabet: frenchPhoneticAlphabet,
		ConfusingLetters: frenchConfusingLetters,
		corrections:      make(map[string]string),
		commonWords:      make(map[string]bool, len(commonWords)),
	}
	for canonical, variants := range corrections {
		for _, v := range variants {
			lx.corrections[phonetic.Fold(v)] = canonical
		}
	}
	for _, w := range commonWords {
		lx.commonWords[phonetic.Fold(w)] = true
	}
	return lx
}

// Correction reports the canonical spelling for a known misspelling of name,
// if one exists. The name is matched on its folded form.
func (lx *Lexicon) Correction(name string) (string, bool) {
	canonical, ok := lx.corrections[phonetic.Fold(strings.TrimSpace(name))]
	return canonical, ok
}

// IsCommonWord reports whether token (folded) is an everyday word that STT
// plausibly substituted for a name fragment.
func (lx *Lexicon) IsCommonWord(token string) bool {
	return lx.commonWords[phonetic.Fold(token)]
}
