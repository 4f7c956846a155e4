package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched candidate to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher ranks known candidate strings against a spoken token using a
// two-stage strategy:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the input and each candidate; overlapping codes make a
//     candidate phonetically plausible.
//  2. Jaro-Winkler ranking among plausible candidates, on the diacritic-folded
//     strings, provided the score clears the phonetic threshold. When no
//     phonetic candidate exists, a secondary pass applies pure Jaro-Winkler
//     with the stricter fuzzy threshold.
//
// Multi-word candidates are supported: the matcher considers full-string,
// concatenated, and best-pairwise-token scores. All methods are safe for
// concurrent use — the Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher configured with the supplied options.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score is one ranked candidate produced by [Matcher.Rank].
type Score struct {
	// Candidate is the candidate string exactly as supplied.
	Candidate string

	// Value is the similarity in [0,1].
	Value float64

	// Phonetic reports whether the candidate passed the metaphone overlap
	// gate (as opposed to the pure-fuzzy fallback).
	Phonetic bool
}

// Best returns the highest-ranked candidate for word, mirroring the contract
// of Rank: when matched is false, corrected equals word unchanged and
// confidence is 0.
func (m *Matcher) Best(word string, candidates []string) (corrected string, confidence float64, matched bool) {
	scores := m.Rank(word, candidates)
	if len(scores) == 0 {
		return word, 0, false
	}
	return scores[0].Candidate, scores[0].Value, true
}

// Rank scores every candidate against word and returns the accepted ones in
// descending similarity order. Candidates below the applicable threshold are
// omitted. An empty result means nothing was similar enough.
func (m *Matcher) Rank(word string, candidates []string) []Score {
	if len(candidates) == 0 || strings.TrimSpace(word) == "" {
		return nil
	}

	wordFolded := Fold(word)
	wordTokens := strings.Fields(separatorsToSpaces(wordFolded))
	inputCodes := codesForTokens(wordTokens)

	var accepted []Score
	for _, cand := range candidates {
		candFolded := Fold(cand)
		if candFolded == "" {
			continue
		}
		candTokens := strings.Fields(separatorsToSpaces(candFolded))

		candCodes := codesForTokens(candTokens)
		phoneticMatch := codesOverlap(inputCodes, candCodes)
		jwScore := bestJWScore(wordTokens, candTokens, wordFolded, candFolded)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				accepted = append(accepted, Score{Candidate: cand, Value: jwScore, Phonetic: true})
			}
		} else if jwScore >= m.fuzzyThreshold {
			accepted = append(accepted, Score{Candidate: cand, Value: jwScore, Phonetic: false})
		}
	}

	// Phonetic matches outrank fuzzy-only matches at equal similarity.
	sortScores(accepted)
	return accepted
}

// Similarity returns the blended similarity between two strings without any
// threshold gating. Used by the reconciliation engine for candidate merging.
func Similarity(a, b string) float64 {
	af, bf := Fold(a), Fold(b)
	if af == "" || bf == "" {
		return 0
	}
	aTokens := strings.Fields(separatorsToSpaces(af))
	bTokens := strings.Fields(separatorsToSpaces(bf))

	score := bestJWScore(aTokens, bTokens, af, bf)

	// An identical skeleton is strong evidence even when the surface strings
	// diverge ("Renault" vs "Renaud"): floor the score at the phonetic level.
	if Skeleton(a) == Skeleton(b) && score < 0.90 {
		score = 0.90
	}
	return score
}

// separatorsToSpaces rewrites field-internal separators to spaces for token
// comparison while callers keep the original string for readback.
func separatorsToSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '\'' {
			return ' '
		}
		return r
	}, s)
}

func sortScores(scores []Score) {
	// Insertion sort: candidate lists are tiny (name variants, seven motives).
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && less(scores[j-1], scores[j]); j-- {
			scores[j-1], scores[j] = scores[j], scores[j-1]
		}
	}
}

func less(a, b Score) bool {
	if a.Phonetic != b.Phonetic {
		return b.Phonetic
	}
	return a.Value < b.Value
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the candidate using three strategies:
//
//  1. Full-string comparison ("de la barrere" vs "delabarrere" variants).
//  2. Space-stripped comparison, which absorbs compound-word splits.
//  3. Best pairwise token comparison, for one spoken word matching one
//     candidate word.
func bestJWScore(inputTokens, candTokens []string, inputFull, candFull string) float64 {
	score := matchr.JaroWinkler(inputFull, candFull, false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(candTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}

	return score
}
